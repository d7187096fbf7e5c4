package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	CandidateUndiscovered     = "undiscovered"
	CandidatePendingReview    = "pending_review"
	CandidateInvestigating    = "investigating"
	CandidateConfirmedInsider = "confirmed_insider"
	CandidateLikelyInsider    = "likely_insider"
	CandidateFalsePositive    = "false_positive"
	CandidateCleared          = "cleared"
	CandidateDismissed        = "dismissed"
)

const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// InvestigationCandidate is the single case file for a wallet.
type InvestigationCandidate struct {
	ID            uint64  `gorm:"primaryKey;autoIncrement"`
	WalletAddress string  `gorm:"type:varchar(64);not null;uniqueIndex"`
	MarketID      *string `gorm:"type:varchar(100);index"`
	Status        string  `gorm:"type:varchar(24);not null;index"`
	Priority      string  `gorm:"type:varchar(16);not null;index"`
	PeakScore     float64 `gorm:"not null"`
	AlertCount    int     `gorm:"not null"`

	MatchedPatterns datatypes.JSON
	SourceAlertID   *uint64 `gorm:"index"`
	ResolvedAt      *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (InvestigationCandidate) TableName() string {
	return "investigation_candidates"
}
