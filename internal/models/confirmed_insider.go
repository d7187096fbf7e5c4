package models

import "time"

const (
	ConfidenceConfirmed = "confirmed"
	ConfidenceLikely    = "likely"
)

// ConfirmedInsider is ground truth for the feedback loop.
type ConfirmedInsider struct {
	ID              uint64  `gorm:"primaryKey;autoIncrement"`
	WalletAddress   string  `gorm:"type:varchar(64);not null;uniqueIndex"`
	Confidence      string  `gorm:"type:varchar(16);not null"`
	Source          string  `gorm:"type:varchar(50);not null"`
	CandidateID     *uint64 `gorm:"index"`
	Evidence        string  `gorm:"type:text"`
	UsedForTraining bool    `gorm:"not null;index"`

	ConfirmedAt time.Time `gorm:"not null;index"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (ConfirmedInsider) TableName() string {
	return "confirmed_insiders"
}
