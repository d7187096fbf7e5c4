package features

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insiderwatch/internal/config"
	"insiderwatch/internal/models"
)

func testEngineer() *Engineer {
	return New(config.Default().Features)
}

func sampleTrade() models.Trade {
	traded := time.Date(2026, 3, 4, 18, 30, 0, 0, time.UTC)
	end := traded.Add(6 * time.Hour)
	funded := traded.Add(-2 * time.Hour)
	amount := decimal.NewFromInt(20000)
	return models.Trade{
		ID:            7,
		WalletAddress: "0xabc",
		MarketID:      "m-1",
		Side:          models.SideBuy,
		OutcomeIndex:  1,
		Price:         decimal.RequireFromString("0.12"),
		Size:          decimal.NewFromInt(100000),
		TradedAt:      traded,
		MarketEndAt:   &end,
		FundedAt:      &funded,
		FundingAmount: &amount,
	}
}

func TestExtractMissingWalletUsesDefaults(t *testing.T) {
	v, warnings := testEngineer().Extract(sampleTrade(), nil)

	assert.Contains(t, warnings, WarnWalletMissing)
	assert.Equal(t, 0.0, v[IdxHasWallet])
	assert.Equal(t, 0.0, v[IdxWalletAgeDays])
	assert.Equal(t, 0.5, v[IdxWinRate])
	assert.InDelta(t, 6.0, v[IdxHoursToResolution], 1e-9)
	assert.InDelta(t, 2.0, v[IdxFundingLagHours], 1e-9)
	assert.Equal(t, 1.0, v[IdxIsBuy])
	assert.InDelta(t, 0.76, v[IdxPriceConfidence], 1e-9)
	assert.InDelta(t, math.Log10(1+12000)/6, v[IdxNormalizedSize], 1e-9)
}

func TestExtractWithWallet(t *testing.T) {
	trade := sampleTrade()
	firstSeen := trade.TradedAt.Add(-48 * time.Hour)
	win := 0.8
	wallet := &models.Wallet{
		Address:     "0xabc",
		FirstSeenAt: &firstSeen,
		TradeCount:  3,
		Volume:      decimal.NewFromInt(24000),
		WinRate:     &win,
		MarketCount: 5,
	}

	v, warnings := testEngineer().Extract(trade, wallet)

	assert.NotContains(t, warnings, WarnWalletMissing)
	assert.Equal(t, 1.0, v[IdxHasWallet])
	assert.InDelta(t, 2.0, v[IdxWalletAgeDays], 1e-9)
	assert.Equal(t, 3.0, v[IdxWalletTradeCount])
	assert.Equal(t, 0.8, v[IdxWinRate])
	assert.InDelta(t, 0.5, v[IdxConcentration], 1e-9)
	assert.InDelta(t, 0.1, v[IdxMarketCount], 1e-9)
}

func TestExtractUnknownResolutionAndLateTrade(t *testing.T) {
	trade := sampleTrade()
	trade.MarketEndAt = nil
	v, warnings := testEngineer().Extract(trade, nil)
	assert.Equal(t, UnknownHours, v[IdxHoursToResolution])
	assert.Equal(t, 0.0, v[IdxHasResolution])
	assert.Contains(t, warnings, WarnResolutionUnknown)

	trade = sampleTrade()
	end := trade.TradedAt.Add(-time.Hour)
	trade.MarketEndAt = &end
	v, warnings = testEngineer().Extract(trade, nil)
	assert.Equal(t, 0.0, v[IdxHoursToResolution])
	assert.Contains(t, warnings, WarnTradeAfterEnd)
}

func TestExtractVectorIsAlwaysFinite(t *testing.T) {
	eng := New(config.FeaturesConfig{LogVolumeMean: 0, LogVolumeStd: 0, MarketCountNorm: 50})
	wallet := &models.Wallet{Volume: decimal.NewFromInt(10)}

	v, warnings := eng.Extract(sampleTrade(), wallet)
	for i, x := range v {
		require.False(t, math.IsNaN(x) || math.IsInf(x, 0), "feature %s", Name(i))
	}
	assert.Contains(t, warnings, WarnNonFinitePrefix+"wallet_volume_z")
}

func TestAxisInputs(t *testing.T) {
	trade := sampleTrade()
	in := AxisInputs(trade, nil)
	assert.Contains(t, in, AxisSize)
	assert.Contains(t, in, AxisTiming)
	assert.Contains(t, in, AxisFundingProximity)
	assert.Contains(t, in, AxisPriceExtremity)
	assert.NotContains(t, in, AxisWalletAge)
	assert.NotContains(t, in, AxisWalletActivity)
	assert.NotContains(t, in, AxisPositionConcentration)

	assert.True(t, AxisTiming.Inverted())
	assert.False(t, AxisSize.Inverted())
	assert.True(t, Axis("size").Valid())
	assert.False(t, Axis("volume").Valid())
}
