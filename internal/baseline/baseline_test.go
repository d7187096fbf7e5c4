package baseline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insiderwatch/internal/cache"
	"insiderwatch/internal/features"
	"insiderwatch/internal/models"
	"insiderwatch/internal/testdb"
)

func TestRepoProviderFallsBackPerAxis(t *testing.T) {
	ctx := context.Background()
	store := testdb.Open(t)
	require.NoError(t, store.UpsertBaselines(ctx, []models.Baseline{
		{Scope: MarketScope("m-1"), Axis: "size", Mean: 3, Std: 0.5, Samples: 40},
		{Scope: AssetScope("politics"), Axis: "size", Mean: 9, Std: 9, Samples: 400},
		{Scope: AssetScope("politics"), Axis: "timing", Mean: 200, Std: 80, Samples: 400},
		{Scope: GlobalScope, Axis: "wallet_age", Mean: 120, Std: 60, Samples: 9000},
		{Scope: GlobalScope, Axis: "not_an_axis", Mean: 1, Std: 1, Samples: 1},
	}))

	p := &RepoProvider{Repo: store}
	set, err := p.Lookup(ctx, Key{MarketID: "m-1", AssetClass: "politics"})
	require.NoError(t, err)

	assert.Equal(t, 3.0, set[features.AxisSize].Mean)
	assert.Equal(t, MarketScope("m-1"), set[features.AxisSize].Scope)
	assert.Equal(t, AssetScope("politics"), set[features.AxisTiming].Scope)
	assert.Equal(t, GlobalScope, set[features.AxisWalletAge].Scope)
	assert.NotContains(t, set, features.AxisFundingProximity)
	assert.Len(t, set, 3)
}

func TestKeyScopes(t *testing.T) {
	assert.Equal(t, []string{"market:m", "asset:a", "global"}, Key{MarketID: "m", AssetClass: "a"}.Scopes())
	assert.Equal(t, []string{"global"}, Key{}.Scopes())
}

type countingProvider struct {
	calls int
	set   Set
	err   error
}

func (c *countingProvider) Lookup(context.Context, Key) (Set, error) {
	c.calls++
	return c.set, c.err
}

func TestCachedProviderHitsNextOnce(t *testing.T) {
	ctx := context.Background()
	next := &countingProvider{set: Set{features.AxisSize: {Mean: 1, Std: 2}}}
	c := &Cached{Next: next, Store: cache.NewMemoryStore()}

	for i := 0; i < 3; i++ {
		set, err := c.Lookup(ctx, Key{MarketID: "m"})
		require.NoError(t, err)
		assert.Equal(t, 2.0, set[features.AxisSize].Std)
	}
	assert.Equal(t, 1, next.calls)

	_, err := c.Lookup(ctx, Key{MarketID: "other"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCachedProviderPropagatesErrors(t *testing.T) {
	next := &countingProvider{err: errors.New("db down")}
	c := &Cached{Next: next, Store: cache.NewMemoryStore()}
	_, err := c.Lookup(context.Background(), Key{})
	require.Error(t, err)
}
