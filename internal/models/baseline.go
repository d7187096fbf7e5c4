package models

import "time"

// Baseline is the population mean/std of one rule axis within a scope.
// Scope is "market:<id>", "asset:<class>" or "global".
type Baseline struct {
	ID      uint64  `gorm:"primaryKey;autoIncrement"`
	Scope   string  `gorm:"type:varchar(150);not null;uniqueIndex:uniq_baseline_scope_axis"`
	Axis    string  `gorm:"type:varchar(40);not null;uniqueIndex:uniq_baseline_scope_axis"`
	Mean    float64 `gorm:"not null"`
	Std     float64 `gorm:"not null"`
	Samples int64   `gorm:"not null"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Baseline) TableName() string {
	return "baselines"
}
