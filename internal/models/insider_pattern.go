package models

import (
	"time"

	"gorm.io/datatypes"
)

// InsiderPattern is a named conjunction of z-score predicates. Stats are
// recomputed from trade_scores by the feedback job, never incremented.
type InsiderPattern struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement"`
	Name        string         `gorm:"type:varchar(80);not null;uniqueIndex"`
	Description string         `gorm:"type:text"`
	Predicates  datatypes.JSON `gorm:"not null"`
	Enabled     bool           `gorm:"not null"`
	Builtin     bool           `gorm:"not null"`

	MatchCount     int64 `gorm:"not null"`
	ConfirmedCount int64 `gorm:"not null"`
	Precision      *float64
	StatsAsOf      *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (InsiderPattern) TableName() string {
	return "insider_patterns"
}
