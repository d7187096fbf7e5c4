package features

import (
	"math"

	"insiderwatch/internal/models"
)

// Axis names one dimension of the rule scorer.
type Axis string

const (
	AxisSize                  Axis = "size"
	AxisTiming                Axis = "timing"
	AxisWalletAge             Axis = "wallet_age"
	AxisWalletActivity        Axis = "wallet_activity"
	AxisPriceExtremity        Axis = "price_extremity"
	AxisPositionConcentration Axis = "position_concentration"
	AxisFundingProximity      Axis = "funding_proximity"
)

// Axes lists every rule axis in a stable order.
var Axes = []Axis{
	AxisSize,
	AxisTiming,
	AxisWalletAge,
	AxisWalletActivity,
	AxisPriceExtremity,
	AxisPositionConcentration,
	AxisFundingProximity,
}

// Inverted reports whether small raw values are the suspicious ones
// (late trades, young wallets, few prior trades, fresh funding).
func (a Axis) Inverted() bool {
	switch a {
	case AxisTiming, AxisWalletAge, AxisWalletActivity, AxisFundingProximity:
		return true
	}
	return false
}

func (a Axis) Valid() bool {
	for _, x := range Axes {
		if x == a {
			return true
		}
	}
	return false
}

// AxisValues holds raw per-axis measurements. Absent keys are unknown.
type AxisValues map[Axis]float64

// AxisInputs returns the raw measurement for each axis the trade has data for.
func AxisInputs(trade models.Trade, wallet *models.Wallet) AxisValues {
	out := AxisValues{}

	if notional, _ := trade.Notional().Float64(); notional > 0 {
		out[AxisSize] = math.Log10(1 + notional)
	}
	if price, _ := trade.Price.Float64(); price >= 0 && price <= 1 {
		out[AxisPriceExtremity] = math.Abs(price-0.5) * 2
	}
	if hours, ok := HoursToResolution(trade); ok {
		out[AxisTiming] = hours
	}
	if lag, ok := FundingLagHours(trade); ok {
		out[AxisFundingProximity] = lag
	}
	if wallet != nil {
		if age, ok := WalletAgeDays(trade, wallet); ok {
			out[AxisWalletAge] = age
		}
		out[AxisWalletActivity] = math.Log1p(float64(max(wallet.TradeCount, 0)))
		if c, ok := Concentration(trade, wallet); ok {
			out[AxisPositionConcentration] = c
		}
	}

	for k, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			delete(out, k)
		}
	}
	return out
}
