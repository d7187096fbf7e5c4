package rules

import (
	"context"
	"math"

	"insiderwatch/internal/baseline"
	"insiderwatch/internal/config"
	"insiderwatch/internal/features"
	"insiderwatch/internal/models"
)

const (
	WarnBaselineMissing    = "baseline_missing:"
	WarnBaselineDegenerate = "baseline_degenerate:"
	WarnInputMissing       = "input_missing:"
	WarnZClamped           = "z_clamped:"
)

// ZScores holds one signed z-score per axis, oriented so that larger values
// are more suspicious. Unscorable axes are zero.
type ZScores map[features.Axis]float64

func (z ZScores) Get(axis features.Axis) float64 {
	return z[axis]
}

type Result struct {
	Z            ZScores
	AnomalyScore float64
	Warnings     []string
}

type Scorer struct {
	Config    config.RulesConfig
	Baselines baseline.Provider
}

func New(cfg config.RulesConfig, provider baseline.Provider) *Scorer {
	return &Scorer{Config: cfg, Baselines: provider}
}

// Score looks up the trade's baselines and scores it. The only error source
// is the baseline provider.
func (s *Scorer) Score(ctx context.Context, trade models.Trade, wallet *models.Wallet) (Result, error) {
	set := baseline.Set{}
	if s.Baselines != nil {
		got, err := s.Baselines.Lookup(ctx, baseline.Key{MarketID: trade.MarketID, AssetClass: trade.AssetClass})
		if err != nil {
			return Result{}, err
		}
		set = got
	}
	return s.ScoreInputs(features.AxisInputs(trade, wallet), set), nil
}

// ScoreInputs is the pure part of Score. Missing data never raises the score.
func (s *Scorer) ScoreInputs(inputs features.AxisValues, set baseline.Set) Result {
	res := Result{Z: ZScores{}}
	limit := s.Config.MaxAbsZ
	if limit <= 0 {
		limit = 10
	}
	for _, axis := range features.Axes {
		res.Z[axis] = 0
		raw, ok := inputs[axis]
		if !ok {
			res.Warnings = append(res.Warnings, WarnInputMissing+string(axis))
			continue
		}
		stat, ok := set[axis]
		if !ok {
			res.Warnings = append(res.Warnings, WarnBaselineMissing+string(axis))
			continue
		}
		if !(stat.Std > 0) || math.IsInf(stat.Std, 0) || math.IsNaN(stat.Mean) || math.IsInf(stat.Mean, 0) {
			res.Warnings = append(res.Warnings, WarnBaselineDegenerate+string(axis))
			continue
		}
		z := (raw - stat.Mean) / stat.Std
		if axis.Inverted() {
			z = -z
		}
		if math.IsNaN(z) {
			res.Warnings = append(res.Warnings, WarnBaselineDegenerate+string(axis))
			continue
		}
		if math.Abs(z) > limit {
			z = math.Copysign(limit, z)
			res.Warnings = append(res.Warnings, WarnZClamped+string(axis))
		}
		res.Z[axis] = z
	}
	res.AnomalyScore = Composite(res.Z, s.Config.Weights, s.Config.Scale)
	return res
}

// Composite maps weighted absolute z-scores onto [0,1):
// 1 - exp(-sum(w*|z|)/scale). It is monotonic in every |z| and saturates.
func Composite(z ZScores, weights config.AxisWeights, scale float64) float64 {
	if scale <= 0 {
		scale = 3
	}
	sum := 0.0
	for _, axis := range features.Axes {
		w := Weight(weights, axis)
		v := z[axis]
		if w <= 0 || math.IsNaN(v) {
			continue
		}
		sum += w * math.Abs(v)
	}
	score := 1 - math.Exp(-sum/scale)
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	return math.Min(score, 1)
}

func Weight(w config.AxisWeights, axis features.Axis) float64 {
	switch axis {
	case features.AxisSize:
		return w.Size
	case features.AxisTiming:
		return w.Timing
	case features.AxisWalletAge:
		return w.WalletAge
	case features.AxisWalletActivity:
		return w.WalletActivity
	case features.AxisPriceExtremity:
		return w.PriceExtremity
	case features.AxisPositionConcentration:
		return w.PositionConcentration
	case features.AxisFundingProximity:
		return w.FundingProximity
	}
	return 0
}
