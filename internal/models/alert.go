package models

import "time"

const (
	AlertNew           = "new"
	AlertAcknowledged  = "acknowledged"
	AlertInvestigating = "investigating"
	AlertResolved      = "resolved"
	AlertDismissed     = "dismissed"
)

// Alert is raised once per trade whose ensemble score crossed the alert
// threshold.
type Alert struct {
	ID            uint64  `gorm:"primaryKey;autoIncrement"`
	TradeID       uint64  `gorm:"not null;uniqueIndex"`
	WalletAddress string  `gorm:"type:varchar(64);not null;index"`
	MarketID      string  `gorm:"type:varchar(100);not null;index"`
	Status        string  `gorm:"type:varchar(20);not null;index"`
	Severity      string  `gorm:"type:varchar(16);not null;index"`
	EnsembleScore float64 `gorm:"not null"`
	CandidateID   *uint64 `gorm:"index"`
	Note          string  `gorm:"type:text"`
	UpdatedBy     string  `gorm:"type:varchar(100)"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Alert) TableName() string {
	return "alerts"
}
