package models

import (
	"time"

	"gorm.io/datatypes"
)

// TradeScore is the persisted result of one scoring pass over a trade.
// Exactly one row exists per trade; rescoring replaces it.
type TradeScore struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	TradeID       uint64 `gorm:"not null;uniqueIndex"`
	WalletAddress string `gorm:"type:varchar(64);not null;index"`
	MarketID      string `gorm:"type:varchar(100);not null;index"`

	SizeZ                  float64 `gorm:"not null"`
	TimingZ                float64 `gorm:"not null"`
	WalletAgeZ             float64 `gorm:"not null"`
	WalletActivityZ        float64 `gorm:"not null"`
	PriceExtremityZ        float64 `gorm:"not null"`
	PositionConcentrationZ float64 `gorm:"not null"`
	FundingProximityZ      float64 `gorm:"not null"`
	AnomalyScore           float64 `gorm:"not null;index"`

	// Nil when the batch was too small for the ML model.
	MLAnomalyScore *float64 `gorm:"column:ml_anomaly_score"`
	MLConfidence   *float64 `gorm:"column:ml_confidence"`
	MLOutlier      bool     `gorm:"column:ml_outlier;not null"`

	HighestPatternScore float64        `gorm:"not null"`
	MatchedPatterns     datatypes.JSON `gorm:"not null"`
	TrinityPattern      bool           `gorm:"not null;index"`

	EnsembleScore float64 `gorm:"not null;index"`
	Severity      string  `gorm:"type:varchar(16);not null;index"`
	WasCorrect    *bool

	DataQuality datatypes.JSON
	BatchID     string    `gorm:"type:varchar(64);index"`
	ScoredAt    time.Time `gorm:"not null;index"`
	// FirstScoredAt is set on the first insert and never rewritten by a rescore.
	FirstScoredAt time.Time `gorm:"index"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (TradeScore) TableName() string {
	return "trade_scores"
}
