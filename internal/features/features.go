package features

import (
	"math"

	"insiderwatch/internal/config"
	"insiderwatch/internal/models"
)

// Dim is the length of every feature vector handed to the ML detector.
const Dim = 22

// Vector indices.
const (
	IdxNormalizedSize = iota
	IdxPrice
	IdxHoursToResolution
	IdxWalletAgeDays
	IdxWalletTradeCount
	IdxIsBuy
	IdxOutcomeIndex
	IdxPriceConfidence
	IdxWinRate
	IdxWalletVolumeZ
	IdxMarketCount
	IdxFunding
	IdxLogNotional
	IdxConcentration
	IdxFundingLagHours
	IdxHasWallet
	IdxHasResolution
	IdxHasFunding
	IdxHourSin
	IdxHourCos
	IdxWeekdaySin
	IdxWeekdayCos
)

const (
	// UnknownHours stands in for a missing resolution time or funding event.
	UnknownHours = 8760.0
	defaultWin   = 0.5
)

// Data-quality warnings.
const (
	WarnWalletMissing       = "wallet_missing"
	WarnResolutionUnknown   = "resolution_time_unknown"
	WarnTradeAfterEnd       = "trade_after_resolution"
	WarnNonFinitePrefix     = "non_finite_feature:"
	WarnInvalidPrice        = "price_out_of_range"
	WarnWalletAgeNegative   = "wallet_first_seen_after_trade"
	WarnFundingAfterTrade   = "funding_after_trade"
	WarnNonPositiveNotional = "non_positive_notional"
)

type Vector [Dim]float64

func (v Vector) Slice() []float64 {
	out := make([]float64, Dim)
	copy(out, v[:])
	return out
}

var names = [Dim]string{
	"normalized_size", "price", "hours_to_resolution", "wallet_age_days",
	"wallet_trade_count", "is_buy", "outcome_index", "price_confidence",
	"win_rate", "wallet_volume_z", "market_count", "funding",
	"log_notional", "concentration", "funding_lag_hours", "has_wallet",
	"has_resolution", "has_funding", "hour_sin", "hour_cos",
	"weekday_sin", "weekday_cos",
}

// Name returns the name of feature i.
func Name(i int) string {
	if i < 0 || i >= Dim {
		return ""
	}
	return names[i]
}

// Engineer turns a trade and its (optional) wallet into model inputs.
type Engineer struct {
	Config config.FeaturesConfig
}

func New(cfg config.FeaturesConfig) *Engineer {
	return &Engineer{Config: cfg}
}

// Extract builds the feature vector. It never fails; missing wallet data
// falls back to neutral defaults and non-finite values are zeroed. Every
// fallback is reported in the returned warnings.
func (e *Engineer) Extract(trade models.Trade, wallet *models.Wallet) (Vector, []string) {
	var v Vector
	var warnings []string

	price, _ := trade.Price.Float64()
	if price < 0 || price > 1 {
		warnings = append(warnings, WarnInvalidPrice)
		price = clamp(price, 0, 1)
	}
	notional, _ := trade.Notional().Float64()
	if notional <= 0 {
		warnings = append(warnings, WarnNonPositiveNotional)
		notional = 0
	}

	v[IdxNormalizedSize] = clamp(math.Log10(1+notional)/6, 0, 2)
	v[IdxPrice] = price
	v[IdxLogNotional] = math.Log1p(notional)
	v[IdxPriceConfidence] = math.Abs(price-0.5) * 2
	if trade.Side == models.SideBuy {
		v[IdxIsBuy] = 1
	}
	v[IdxOutcomeIndex] = float64(trade.OutcomeIndex)

	if hours, ok := HoursToResolution(trade); ok {
		v[IdxHoursToResolution] = hours
		v[IdxHasResolution] = 1
	} else {
		v[IdxHoursToResolution] = UnknownHours
		warnings = append(warnings, WarnResolutionUnknown)
	}
	if trade.MarketEndAt != nil && trade.TradedAt.After(*trade.MarketEndAt) {
		warnings = append(warnings, WarnTradeAfterEnd)
	}

	if lag, ok := FundingLagHours(trade); ok {
		funding, _ := trade.FundingAmount.Float64()
		v[IdxFunding] = clamp(math.Log10(1+math.Max(funding, 0))/6, 0, 2)
		v[IdxFundingLagHours] = lag
		v[IdxHasFunding] = 1
	} else {
		v[IdxFundingLagHours] = UnknownHours
		if trade.FundedAt != nil && trade.FundedAt.After(trade.TradedAt) {
			warnings = append(warnings, WarnFundingAfterTrade)
		}
	}

	v[IdxWinRate] = defaultWin
	if wallet == nil {
		warnings = append(warnings, WarnWalletMissing)
	} else {
		v[IdxHasWallet] = 1
		if age, ok := WalletAgeDays(trade, wallet); ok {
			v[IdxWalletAgeDays] = age
		} else if wallet.FirstSeenAt != nil {
			warnings = append(warnings, WarnWalletAgeNegative)
		}
		v[IdxWalletTradeCount] = float64(max(wallet.TradeCount, 0))
		if wallet.WinRate != nil {
			v[IdxWinRate] = clamp(*wallet.WinRate, 0, 1)
		}
		volume, _ := wallet.Volume.Float64()
		v[IdxWalletVolumeZ] = (math.Log10(1+math.Max(volume, 0)) - e.Config.LogVolumeMean) / e.Config.LogVolumeStd
		v[IdxMarketCount] = math.Min(float64(max(wallet.MarketCount, 0))/e.Config.MarketCountNorm, 2)
		if c, ok := Concentration(trade, wallet); ok {
			v[IdxConcentration] = c
		}
	}

	at := trade.TradedAt.UTC()
	hour := float64(at.Hour()) + float64(at.Minute())/60
	v[IdxHourSin] = math.Sin(2 * math.Pi * hour / 24)
	v[IdxHourCos] = math.Cos(2 * math.Pi * hour / 24)
	v[IdxWeekdaySin] = math.Sin(2 * math.Pi * float64(at.Weekday()) / 7)
	v[IdxWeekdayCos] = math.Cos(2 * math.Pi * float64(at.Weekday()) / 7)

	for i := range v {
		if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
			v[i] = 0
			warnings = append(warnings, WarnNonFinitePrefix+names[i])
		}
	}
	return v, warnings
}

// HoursToResolution is the time left until market end, clamped at zero.
func HoursToResolution(trade models.Trade) (float64, bool) {
	if trade.MarketEndAt == nil || trade.TradedAt.IsZero() {
		return 0, false
	}
	return math.Max(trade.MarketEndAt.Sub(trade.TradedAt).Hours(), 0), true
}

// WalletAgeDays is the wallet age at trade time. Wallets first seen after the
// trade are treated as unknown.
func WalletAgeDays(trade models.Trade, wallet *models.Wallet) (float64, bool) {
	if wallet == nil || wallet.FirstSeenAt == nil {
		return 0, false
	}
	age := trade.TradedAt.Sub(*wallet.FirstSeenAt)
	if age < 0 {
		return 0, false
	}
	return age.Hours() / 24, true
}

// FundingLagHours is the delay between the last funding event and the trade.
func FundingLagHours(trade models.Trade) (float64, bool) {
	if trade.FundedAt == nil || trade.FundingAmount == nil {
		return 0, false
	}
	lag := trade.TradedAt.Sub(*trade.FundedAt)
	if lag < 0 {
		return 0, false
	}
	return lag.Hours(), true
}

// Concentration is the share of the wallet's lifetime volume put into this
// trade.
func Concentration(trade models.Trade, wallet *models.Wallet) (float64, bool) {
	if wallet == nil {
		return 0, false
	}
	notional, _ := trade.Notional().Float64()
	if notional <= 0 {
		return 0, false
	}
	volume, _ := wallet.Volume.Float64()
	return notional / math.Max(volume, notional), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
