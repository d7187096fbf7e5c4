package feedback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"

	"insiderwatch/internal/config"
	"insiderwatch/internal/investigation"
	"insiderwatch/internal/models"
	"insiderwatch/internal/repository"
	"insiderwatch/internal/settings"
	"insiderwatch/internal/testdb"
)

type fixture struct {
	repo     repository.Repository
	loop     *Loop
	settings *settings.Service
	asOf     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := testdb.Open(t)
	now := time.Now().UTC()
	asOf := now.Add(time.Hour)

	cfg := config.Default()
	cfg.Feedback.GridMin, cfg.Feedback.GridMax, cfg.Feedback.GridStep = 0.1, 0.9, 0.1
	svc := &settings.Service{Repo: repo, Defaults: settings.DefaultsFromConfig(cfg)}

	var trades []models.Trade
	for i, wallet := range []string{"0xins1", "0xins2", "0xins4", "0xneg"} {
		trades = append(trades, models.Trade{
			ExternalID:    fmt.Sprintf("t-%d", i),
			WalletAddress: wallet,
			MarketID:      "m-1",
			Side:          models.SideBuy,
			Price:         decimal.RequireFromString("0.2"),
			Size:          decimal.NewFromInt(1000),
			TradedAt:      now.Add(-2 * time.Hour),
		})
	}
	require.NoError(t, repo.CreateTrades(ctx, trades))

	sc := func(tradeID uint64, wallet string, anomaly, ensemble float64, patterns string) models.TradeScore {
		return models.TradeScore{
			TradeID:         tradeID,
			WalletAddress:   wallet,
			MarketID:        "m-1",
			AnomalyScore:    anomaly,
			EnsembleScore:   ensemble,
			Severity:        models.PriorityMedium,
			MatchedPatterns: datatypes.JSON(patterns),
			DataQuality:     datatypes.JSON("[]"),
			ScoredAt:        now.Add(-time.Hour),
		}
	}
	require.NoError(t, repo.UpsertTradeScores(ctx, []models.TradeScore{
		sc(trades[0].ID, "0xins1", 0.8, 0.7, `["trinity"]`),
		sc(trades[1].ID, "0xins2", 0.3, 0.6, `[]`),
		sc(trades[3].ID, "0xneg", 0.6, 0.55, `["trinity"]`),
	}))

	for _, wallet := range []string{"0xins1", "0xins2", "0xins3", "0xins4"} {
		require.NoError(t, repo.UpsertConfirmedInsider(ctx, &models.ConfirmedInsider{
			WalletAddress: wallet,
			Confidence:    models.ConfidenceConfirmed,
			Source:        "test",
			ConfirmedAt:   now.Add(-30 * time.Minute),
		}))
	}
	_, err := repo.CreateCandidateIfMissing(ctx, &models.InvestigationCandidate{
		WalletAddress: "0xneg",
		Status:        models.CandidateFalsePositive,
		Priority:      models.PriorityMedium,
	})
	require.NoError(t, err)
	_, err = repo.CreateInsiderPatternIfMissing(ctx, &models.InsiderPattern{
		Name:       "trinity",
		Predicates: datatypes.JSON(`[{"axis":"size","min_abs":2}]`),
		Enabled:    true,
	})
	require.NoError(t, err)

	return &fixture{
		repo:     repo,
		settings: svc,
		asOf:     asOf,
		loop: &Loop{
			Repo:     repo,
			Settings: svc,
			Config:   cfg.Feedback,
			Logger:   zaptest.NewLogger(t),
		},
	}
}

func TestRunReport(t *testing.T) {
	f := newFixture(t)
	report, err := f.loop.Run(context.Background(), f.asOf)
	require.NoError(t, err)

	assert.Equal(t, 4, report.ConfirmedInsiders)
	assert.Equal(t, 1, report.Detected)
	assert.InDelta(t, 0.25, report.DetectionRate, 1e-9)

	assert.Equal(t, 1, report.HeldOut.TruePositives)
	assert.Equal(t, 1, report.HeldOut.FalsePositives)
	assert.Equal(t, 3, report.HeldOut.FalseNegatives)
	assert.InDelta(t, 0.5, report.HeldOut.Precision, 1e-9)
	assert.InDelta(t, 0.25, report.HeldOut.Recall, 1e-9)
	assert.InDelta(t, 1.0/3.0, report.HeldOut.F1, 1e-9)

	assert.Equal(t, map[string]int{
		ReasonLowAnomaly:     1,
		ReasonNoTradeData:    1,
		ReasonTradeNotScored: 1,
	}, report.FalseNegByCause)

	require.NotNil(t, report.Recommendation)
	rec := report.Recommendation
	assert.True(t, rec.TunedOnHeldOut)
	assert.InDelta(t, 0.1, rec.AnomalyThreshold, 1e-9)
	assert.InDelta(t, 0.6, rec.ProbabilityThreshold, 1e-9)
	assert.InDelta(t, 2.0/3.0, rec.F1, 1e-9)
	assert.Equal(t, []string{"0xins1", "0xins2", "0xins3", "0xins4"}, rec.TuningPositives)

	require.Len(t, report.Patterns, 1)
	assert.EqualValues(t, 2, report.Patterns[0].MatchCount)
	assert.EqualValues(t, 1, report.Patterns[0].ConfirmedCount)
	require.NotNil(t, report.Patterns[0].Precision)
	assert.InDelta(t, 0.5, *report.Patterns[0].Precision, 1e-9)

	rows, err := f.repo.ListInsiderPatterns(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 2, rows[0].MatchCount)
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.loop.Run(ctx, f.asOf)
	require.NoError(t, err)
	second, err := f.loop.Run(ctx, f.asOf)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Len(t, first.Fingerprint, 64)

	rows, err := f.repo.ListInsiderPatterns(ctx, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rows[0].MatchCount)

	runs, err := f.repo.ListFeedbackRuns(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunIgnoresRowsAfterSnapshot(t *testing.T) {
	f := newFixture(t)
	report, err := f.loop.Run(context.Background(), time.Now().UTC().Add(-45*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, report.ConfirmedInsiders)
	assert.Nil(t, report.Recommendation)
}

func TestRescoreAfterSnapshotKeepsReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.loop.Run(ctx, f.asOf)
	require.NoError(t, err)

	scores, err := f.repo.ListTradeScoresByWallets(ctx, []string{"0xins1"}, nil)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	original := scores[0].FirstScoredAt
	rescored := scores[0]
	rescored.ID = 0
	rescored.ScoredAt = f.asOf.Add(time.Minute)
	rescored.FirstScoredAt = time.Time{}
	require.NoError(t, f.repo.UpsertTradeScores(ctx, []models.TradeScore{rescored}))

	scores, err = f.repo.ListTradeScoresByWallets(ctx, []string{"0xins1"}, nil)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.True(t, scores[0].ScoredAt.After(f.asOf))
	assert.True(t, scores[0].FirstScoredAt.Equal(original))

	second, err := f.loop.Run(ctx, f.asOf)
	require.NoError(t, err)
	assert.Equal(t, first.Detected, second.Detected)
	assert.Equal(t, first.FalseNegByCause, second.FalseNegByCause)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestAppliedThresholdsGateAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	workflow := &investigation.Workflow{Repo: f.repo, Settings: f.settings, Logger: zaptest.NewLogger(t)}
	score := func(tradeID uint64, anomaly, ensemble float64) models.TradeScore {
		return models.TradeScore{
			TradeID:       tradeID,
			WalletAddress: fmt.Sprintf("0xw%d", tradeID),
			MarketID:      "m-1",
			AnomalyScore:  anomaly,
			EnsembleScore: ensemble,
		}
	}

	n, err := workflow.RaiseAlerts(ctx, []models.TradeScore{score(101, 0.55, 0.55)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	report, err := f.loop.Run(ctx, f.asOf)
	require.NoError(t, err)
	require.NotNil(t, report.Recommendation)
	report.Recommendation.AnomalyThreshold = 0.95
	report.Recommendation.ProbabilityThreshold = 0.95
	_, err = f.loop.Apply(ctx, report)
	require.NoError(t, err)

	n, err = workflow.RaiseAlerts(ctx, []models.TradeScore{
		score(102, 0.55, 0.55),
		score(103, 0.5, 0.97),
		score(104, 0.96, 0.97),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	wallet := "0xw104"
	alerts, err := f.repo.ListAlerts(ctx, repository.ListAlertsParams{WalletAddress: &wallet})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestApplyRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	report, err := f.loop.Run(ctx, f.asOf)
	require.NoError(t, err)

	got, err := f.loop.ApplyRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, got.AnomalyThreshold, 1e-9)
	assert.InDelta(t, 0.6, got.ProbabilityThreshold, 1e-9)
	assert.InDelta(t, 0.6, got.AlertThreshold, 1e-9)
	assert.Equal(t, "feedback:"+report.RunID, got.Source)
	assert.Equal(t, got, f.settings.Thresholds(ctx))

	confirmed, err := f.repo.ListConfirmedInsiders(ctx, nil)
	require.NoError(t, err)
	for _, c := range confirmed {
		assert.True(t, c.UsedForTraining, c.WalletAddress)
	}

	_, err = f.loop.ApplyRun(ctx, report.RunID)
	assert.ErrorIs(t, err, ErrAlreadyApplied)
	_, err = f.loop.ApplyRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	// With every positive now in training, the next run tunes on them.
	next, err := f.loop.Run(ctx, f.asOf)
	require.NoError(t, err)
	require.NotNil(t, next.Recommendation)
	assert.False(t, next.Recommendation.TunedOnHeldOut)
	assert.Equal(t, 0, next.HeldOut.Positives)
}

func TestGrid(t *testing.T) {
	g := Grid(0.05, 0.95, 0.05)
	require.Len(t, g, 19)
	assert.Equal(t, 0.05, g[0])
	assert.Equal(t, 0.95, g[18])
	assert.Equal(t, []float64{0.3}, Grid(0.3, 0.1, 0.1))
}
