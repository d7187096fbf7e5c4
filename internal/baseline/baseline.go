package baseline

import (
	"context"
	"strings"

	"insiderwatch/internal/features"
	"insiderwatch/internal/repository"
)

const GlobalScope = "global"

// Stat is the population distribution of one axis.
type Stat struct {
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	Samples int64   `json:"samples"`
	Scope   string  `json:"scope"`
}

// Set maps each axis to the most specific baseline available for it.
type Set map[features.Axis]Stat

// Key identifies the trade context a baseline is looked up for.
type Key struct {
	MarketID   string
	AssetClass string
}

func (k Key) String() string {
	return strings.TrimSpace(k.MarketID) + "|" + strings.TrimSpace(k.AssetClass)
}

// Scopes lists the lookup scopes from most to least specific.
func (k Key) Scopes() []string {
	out := make([]string, 0, 3)
	if m := strings.TrimSpace(k.MarketID); m != "" {
		out = append(out, MarketScope(m))
	}
	if a := strings.TrimSpace(k.AssetClass); a != "" {
		out = append(out, AssetScope(a))
	}
	return append(out, GlobalScope)
}

func MarketScope(marketID string) string { return "market:" + marketID }

func AssetScope(assetClass string) string { return "asset:" + assetClass }

// Provider resolves baselines for a trade context. Axes with no baseline at
// any scope are absent from the returned set.
type Provider interface {
	Lookup(ctx context.Context, key Key) (Set, error)
}

// RepoProvider reads baselines maintained by the external baseline service.
type RepoProvider struct {
	Repo repository.Repository
}

func (p *RepoProvider) Lookup(ctx context.Context, key Key) (Set, error) {
	out := Set{}
	if p == nil || p.Repo == nil {
		return out, nil
	}
	for _, scope := range key.Scopes() {
		rows, err := p.Repo.ListBaselinesByScope(ctx, scope)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			axis := features.Axis(row.Axis)
			if !axis.Valid() {
				continue
			}
			if _, ok := out[axis]; ok {
				continue
			}
			out[axis] = Stat{Mean: row.Mean, Std: row.Std, Samples: row.Samples, Scope: scope}
		}
		if len(out) == len(features.Axes) {
			break
		}
	}
	return out, nil
}
