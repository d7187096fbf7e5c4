package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet aggregates trader history. Rows may be missing for brand new wallets.
type Wallet struct {
	Address     string          `gorm:"type:varchar(64);primaryKey"`
	FirstSeenAt *time.Time      `gorm:"index"`
	TradeCount  int             `gorm:"not null"`
	Volume      decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	WinRate     *float64
	MarketCount int `gorm:"not null"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string {
	return "wallets"
}
