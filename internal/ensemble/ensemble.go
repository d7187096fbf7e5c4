package ensemble

import (
	"math"

	"insiderwatch/internal/config"
)

// Input gathers the sub-scores of one trade. ML fields are nil when the batch
// could not be scored by the detector.
type Input struct {
	RuleScore    float64
	MLScore      *float64
	MLConfidence *float64
	PatternScore float64
	Trinity      bool
	WasCorrect   *bool
}

type Result struct {
	Score float64
	// Degraded is true when the ML term was left out.
	Degraded bool
}

type Scorer struct {
	Config config.EnsembleConfig
}

func New(cfg config.EnsembleConfig) *Scorer {
	return &Scorer{Config: cfg}
}

// Score fuses the sub-scores. The ML weight shrinks with the detector's
// confidence, down to half at zero confidence. The result is normalized by
// the weights actually used, adjusted by resolved outcome, boosted for
// Trinity matches and clamped to [0,1].
func (s *Scorer) Score(in Input) Result {
	cfg := s.Config
	rule := unit(in.RuleScore)
	pattern := unit(in.PatternScore)

	num := cfg.RuleWeight*rule + cfg.PatternWeight*pattern
	den := cfg.RuleWeight + cfg.PatternWeight

	res := Result{Degraded: in.MLScore == nil}
	if in.MLScore != nil {
		conf := 1.0
		if in.MLConfidence != nil {
			conf = unit(*in.MLConfidence)
		}
		w := cfg.MLWeight * (0.5 + 0.5*conf)
		num += w * unit(*in.MLScore)
		den += w
	}

	score := 0.0
	if den > 0 {
		score = num / den
	}
	if in.WasCorrect != nil {
		if *in.WasCorrect {
			score *= 1 + cfg.OutcomeBoost
		} else {
			score *= 1 - cfg.OutcomePenalty
		}
	}
	if in.Trinity {
		score += cfg.TrinityBoost
	}
	res.Score = unit(score)
	return res
}

func unit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
