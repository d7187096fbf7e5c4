package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade is a single fill on a prediction market, written by the ingestion
// service. Only WasCorrect changes after insert, once the market resolves.
type Trade struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	ExternalID    string `gorm:"type:varchar(128);not null;uniqueIndex"`
	WalletAddress string `gorm:"type:varchar(64);not null;index"`
	MarketID      string `gorm:"type:varchar(100);not null;index"`
	ConditionID   string `gorm:"type:varchar(100)"`
	// AssetClass is the market category used as the second baseline scope.
	AssetClass   string `gorm:"type:varchar(50);index"`
	Side         string `gorm:"type:varchar(10);not null"`
	OutcomeIndex int    `gorm:"not null"`

	// Price is the implied probability paid, in [0,1]. Size is in shares.
	Price decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	Size  decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	FundingAmount *decimal.Decimal `gorm:"type:numeric(30,10)"`
	FundedAt      *time.Time
	MarketEndAt   *time.Time `gorm:"index"`
	WasCorrect    *bool

	TradedAt  time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (Trade) TableName() string {
	return "trades"
}

// Notional is price times size in USD.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Size)
}
