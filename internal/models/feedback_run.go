package models

import (
	"time"

	"gorm.io/datatypes"
)

// FeedbackRun records one evaluation report; Report holds the full JSON.
type FeedbackRun struct {
	ID    uint64    `gorm:"primaryKey;autoIncrement"`
	RunID string    `gorm:"type:varchar(64);not null;uniqueIndex"`
	AsOf  time.Time `gorm:"not null;index"`

	DetectionRate        float64 `gorm:"not null"`
	Precision            float64 `gorm:"not null"`
	Recall               float64 `gorm:"not null"`
	F1                   float64 `gorm:"column:f1;not null"`
	AnomalyThreshold     float64 `gorm:"not null"`
	ProbabilityThreshold float64 `gorm:"not null"`
	TuningF1             float64 `gorm:"column:tuning_f1;not null"`
	TunedOnHeldOut       bool    `gorm:"not null"`
	Applied              bool    `gorm:"not null"`

	Report      datatypes.JSON `gorm:"not null"`
	Fingerprint string         `gorm:"type:varchar(64);not null;index"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (FeedbackRun) TableName() string {
	return "feedback_runs"
}
