package db

import (
	"insiderwatch/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		// Upstream inputs.
		&models.Trade{},
		&models.Wallet{},
		&models.Baseline{},
		// Scoring output.
		&models.TradeScore{},
		&models.InsiderPattern{},
		// Investigation workflow.
		&models.Alert{},
		&models.InvestigationCandidate{},
		&models.CandidateNote{},
		&models.ConfirmedInsider{},
		// Feedback and runtime settings.
		&models.FeedbackRun{},
		&models.SystemSetting{},
	)
}
