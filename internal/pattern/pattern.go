package pattern

import (
	"math"
	"sort"
	"sync"

	"insiderwatch/internal/features"
	"insiderwatch/internal/rules"
)

const TrinityName = "trinity"

// Predicate requires |z| on Axis to reach MinAbs.
type Predicate struct {
	Axis   features.Axis `json:"axis"`
	MinAbs float64       `json:"min_abs"`
}

// Pattern is a named conjunction of predicates.
type Pattern struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Predicates  []Predicate `json:"predicates"`
}

// Strength is 0 unless every predicate holds. A match scores
// min(1, mean(|z|/threshold)/2), so a bare match is 0.5 and a match at twice
// every threshold saturates at 1.
func (p Pattern) Strength(z rules.ZScores) float64 {
	if len(p.Predicates) == 0 {
		return 0
	}
	ratio := 0.0
	for _, pred := range p.Predicates {
		if !(pred.MinAbs > 0) {
			return 0
		}
		v := math.Abs(z[pred.Axis])
		if math.IsNaN(v) || v < pred.MinAbs {
			return 0
		}
		ratio += v / pred.MinAbs
	}
	return math.Min(1, ratio/float64(len(p.Predicates))/2)
}

// TrinityThresholds gate the size, timing and wallet-age axes of the Trinity
// pattern.
type TrinityThresholds struct {
	Size      float64 `json:"size"`
	Timing    float64 `json:"timing"`
	WalletAge float64 `json:"wallet_age"`
}

func (t TrinityThresholds) Holds(z rules.ZScores) bool {
	return math.Abs(z[features.AxisSize]) >= t.Size &&
		math.Abs(z[features.AxisTiming]) >= t.Timing &&
		math.Abs(z[features.AxisWalletAge]) >= t.WalletAge
}

func (t TrinityThresholds) Pattern() Pattern {
	return Pattern{
		Name:        TrinityName,
		Description: "Large trade, close to resolution, from a young wallet.",
		Predicates: []Predicate{
			{Axis: features.AxisSize, MinAbs: t.Size},
			{Axis: features.AxisTiming, MinAbs: t.Timing},
			{Axis: features.AxisWalletAge, MinAbs: t.WalletAge},
		},
	}
}

// Builtins returns the patterns seeded on first start.
func Builtins(trinity TrinityThresholds) []Pattern {
	return []Pattern{
		trinity.Pattern(),
		{
			Name:        "fresh_wallet_whale",
			Description: "Outsized position from a wallet with almost no history.",
			Predicates: []Predicate{
				{Axis: features.AxisWalletAge, MinAbs: 2.5},
				{Axis: features.AxisSize, MinAbs: 2.5},
			},
		},
		{
			Name:        "late_sniper",
			Description: "Long-odds entry in the final hours before resolution.",
			Predicates: []Predicate{
				{Axis: features.AxisTiming, MinAbs: 3},
				{Axis: features.AxisPriceExtremity, MinAbs: 1.5},
			},
		},
		{
			Name:        "funded_and_fired",
			Description: "Wallet funded shortly before a large trade.",
			Predicates: []Predicate{
				{Axis: features.AxisFundingProximity, MinAbs: 2.5},
				{Axis: features.AxisSize, MinAbs: 1.5},
			},
		},
		{
			Name:        "concentrated_conviction",
			Description: "Most of a thin wallet's volume placed on one outcome.",
			Predicates: []Predicate{
				{Axis: features.AxisPositionConcentration, MinAbs: 2.5},
				{Axis: features.AxisWalletActivity, MinAbs: 1.5},
			},
		},
	}
}

// Match is the pattern verdict for one trade.
type Match struct {
	HighestScore float64
	Matched      []string
	Trinity      bool
}

// Matcher evaluates z-scores against the active patterns. It is safe for
// concurrent use; patterns and thresholds can be swapped at runtime.
type Matcher struct {
	mu       sync.RWMutex
	patterns []Pattern
	trinity  TrinityThresholds
}

func NewMatcher(trinity TrinityThresholds, patterns []Pattern) *Matcher {
	m := &Matcher{}
	m.Replace(trinity, patterns)
	return m
}

// Replace installs a new pattern set. The Trinity entry, when present, always
// follows the given thresholds.
func (m *Matcher) Replace(trinity TrinityThresholds, patterns []Pattern) {
	next := make([]Pattern, 0, len(patterns))
	for _, p := range patterns {
		if p.Name == TrinityName {
			p = trinity.Pattern()
		}
		next = append(next, p)
	}
	sort.SliceStable(next, func(i, j int) bool { return next[i].Name < next[j].Name })
	m.mu.Lock()
	m.trinity = trinity
	m.patterns = next
	m.mu.Unlock()
}

func (m *Matcher) Trinity() TrinityThresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trinity
}

func (m *Matcher) Patterns() []Pattern {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Pattern, len(m.patterns))
	copy(out, m.patterns)
	return out
}

func (m *Matcher) Match(z rules.ZScores) Match {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := Match{Trinity: m.trinity.Holds(z), Matched: []string{}}
	for _, p := range m.patterns {
		s := p.Strength(z)
		if s <= 0 {
			continue
		}
		out.Matched = append(out.Matched, p.Name)
		if s > out.HighestScore {
			out.HighestScore = s
		}
	}
	return out
}
