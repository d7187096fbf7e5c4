package investigation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"

	"insiderwatch/internal/models"
	"insiderwatch/internal/repository"
	"insiderwatch/internal/settings"
	"insiderwatch/internal/testdb"
)

type staticThresholds settings.Thresholds

func (s staticThresholds) Thresholds(context.Context) settings.Thresholds {
	return settings.Thresholds(s)
}

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newWorkflow(t *testing.T) (*Workflow, repository.Repository) {
	t.Helper()
	repo := testdb.Open(t)
	return &Workflow{
		Repo:               repo,
		Settings:           staticThresholds{AnomalyThreshold: 0.5, ProbabilityThreshold: 0.5, AlertThreshold: 0.5, MinPatternSamples: 3},
		Logger:             zaptest.NewLogger(t),
		DiscoveryPrecision: 0.6,
		Now:                func() time.Time { return fixedNow },
	}, repo
}

func score(tradeID uint64, wallet string, ensemble float64, patterns ...string) models.TradeScore {
	if patterns == nil {
		patterns = []string{}
	}
	raw, _ := json.Marshal(patterns)
	return models.TradeScore{
		TradeID:         tradeID,
		WalletAddress:   wallet,
		MarketID:        "m-1",
		AnomalyScore:    ensemble,
		EnsembleScore:   ensemble,
		Severity:        Tier(ensemble),
		MatchedPatterns: datatypes.JSON(raw),
		DataQuality:     datatypes.JSON("[]"),
		ScoredAt:        fixedNow.Add(-time.Hour),
	}
}

func seedScores(t *testing.T, repo repository.Repository, items ...models.TradeScore) {
	t.Helper()
	require.NoError(t, repo.UpsertTradeScores(context.Background(), items))
}

func alertFor(t *testing.T, repo repository.Repository, tradeID uint64) models.Alert {
	t.Helper()
	alerts, err := repo.ListAlerts(context.Background(), repository.ListAlertsParams{Limit: 100})
	require.NoError(t, err)
	for _, a := range alerts {
		if a.TradeID == tradeID {
			return a
		}
	}
	t.Fatalf("no alert for trade %d", tradeID)
	return models.Alert{}
}

func TestTransitionTables(t *testing.T) {
	assert.True(t, CanTransitionAlert(models.AlertNew, models.AlertAcknowledged))
	assert.True(t, CanTransitionAlert(models.AlertInvestigating, models.AlertResolved))
	assert.False(t, CanTransitionAlert(models.AlertNew, models.AlertResolved))
	assert.False(t, CanTransitionAlert(models.AlertDismissed, models.AlertNew))

	assert.True(t, CanTransitionCandidate(models.CandidateUndiscovered, models.CandidateInvestigating))
	assert.True(t, CanTransitionCandidate(models.CandidateInvestigating, models.CandidateCleared))
	assert.False(t, CanTransitionCandidate(models.CandidatePendingReview, models.CandidateConfirmedInsider))
	assert.False(t, CanTransitionCandidate(models.CandidateDismissed, models.CandidateInvestigating))

	for _, s := range []string{
		models.CandidateConfirmedInsider, models.CandidateLikelyInsider,
		models.CandidateFalsePositive, models.CandidateCleared, models.CandidateDismissed,
	} {
		assert.True(t, CandidateTerminal(s), s)
	}
	assert.False(t, CandidateTerminal(models.CandidateInvestigating))
	assert.False(t, CandidateTerminal("bogus"))
	assert.True(t, AlertTerminal(models.AlertResolved))
	assert.False(t, AlertTerminal(models.AlertAcknowledged))
}

func TestTier(t *testing.T) {
	cases := map[float64]string{
		0.95: models.PriorityCritical,
		0.9:  models.PriorityCritical,
		0.7:  models.PriorityHigh,
		0.69: models.PriorityMedium,
		0.5:  models.PriorityMedium,
		0.1:  models.PriorityLow,
	}
	for in, want := range cases {
		assert.Equal(t, want, Tier(in), "score %v", in)
	}
}

func TestRaiseAlertsIsIdempotentAndRefreshes(t *testing.T) {
	w, repo := newWorkflow(t)
	ctx := context.Background()

	n, err := w.RaiseAlerts(ctx, []models.TradeScore{score(1, "0xa", 0.8), score(2, "0xb", 0.3)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = w.RaiseAlerts(ctx, []models.TradeScore{score(1, "0xa", 0.95)})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	total, err := repo.CountAlerts(ctx, repository.ListAlertsParams{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	a := alertFor(t, repo, 1)
	assert.Equal(t, models.AlertNew, a.Status)
	assert.InDelta(t, 0.95, a.EnsembleScore, 1e-9)
	assert.Equal(t, models.PriorityCritical, a.Severity)
}

func TestRaiseAlertsNeedsAnomalyAndProbability(t *testing.T) {
	w, repo := newWorkflow(t)
	ctx := context.Background()
	w.Settings = staticThresholds{AnomalyThreshold: 0.6, ProbabilityThreshold: 0.7, AlertThreshold: 0.5}

	quiet := score(1, "0xa", 0.8)
	quiet.AnomalyScore = 0.4
	lukewarm := score(2, "0xb", 0.65)
	loud := score(3, "0xc", 0.75)
	n, err := w.RaiseAlerts(ctx, []models.TradeScore{quiet, lukewarm, loud})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.AlertNew, alertFor(t, repo, 3).Status)
}

func TestTransitionAlert(t *testing.T) {
	w, repo := newWorkflow(t)
	ctx := context.Background()
	_, err := w.RaiseAlerts(ctx, []models.TradeScore{score(1, "0xa", 0.8)})
	require.NoError(t, err)
	a := alertFor(t, repo, 1)

	_, err = w.TransitionAlert(ctx, a.ID, models.AlertResolved, "ana", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := w.TransitionAlert(ctx, a.ID, models.AlertAcknowledged, "ana", "looking")
	require.NoError(t, err)
	assert.Equal(t, models.AlertAcknowledged, got.Status)
	assert.Equal(t, "ana", got.UpdatedBy)
	assert.Equal(t, "looking", got.Note)

	_, err = w.TransitionAlert(ctx, 999, models.AlertDismissed, "ana", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPromoteTwiceReturnsExistingCandidate(t *testing.T) {
	w, repo := newWorkflow(t)
	ctx := context.Background()
	seedScores(t, repo, score(1, "0xa", 0.92, "trinity"), score(2, "0xa", 0.6))
	_, err := w.RaiseAlerts(ctx, []models.TradeScore{score(1, "0xa", 0.92, "trinity"), score(2, "0xa", 0.6)})
	require.NoError(t, err)
	first, second := alertFor(t, repo, 1), alertFor(t, repo, 2)

	cand, err := w.Promote(ctx, first.ID, "ana")
	require.NoError(t, err)
	assert.Equal(t, models.CandidatePendingReview, cand.Status)
	assert.Equal(t, models.PriorityCritical, cand.Priority)
	assert.Equal(t, 2, cand.AlertCount)
	assert.JSONEq(t, `["trinity"]`, string(cand.MatchedPatterns))

	promoted, err := repo.GetAlert(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertInvestigating, promoted.Status)
	require.NotNil(t, promoted.CandidateID)
	assert.Equal(t, cand.ID, *promoted.CandidateID)

	again, err := w.Promote(ctx, second.ID, "bob")
	require.ErrorIs(t, err, ErrCandidateExists)
	require.NotNil(t, again)
	assert.Equal(t, cand.ID, again.ID)

	total, err := repo.CountCandidates(ctx, repository.ListCandidatesParams{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	untouched, err := repo.GetAlert(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertNew, untouched.Status)

	notes, err := repo.ListCandidateNotes(ctx, cand.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NoteKindPromotion, notes[0].Kind)
}

func promoteOne(t *testing.T, w *Workflow, repo repository.Repository, wallet string, ensemble float64) *models.InvestigationCandidate {
	t.Helper()
	ctx := context.Background()
	sc := score(100, wallet, ensemble)
	seedScores(t, repo, sc)
	_, err := w.RaiseAlerts(ctx, []models.TradeScore{sc})
	require.NoError(t, err)
	cand, err := w.Promote(ctx, alertFor(t, repo, 100).ID, "ana")
	require.NoError(t, err)
	return cand
}

func TestResolvingDismissedCandidateIsRejected(t *testing.T) {
	w, repo := newWorkflow(t)
	ctx := context.Background()
	cand := promoteOne(t, w, repo, "0xa", 0.8)

	_, err := w.TransitionCandidate(ctx, cand.ID, models.CandidateDismissed, "ana", "noise")
	require.NoError(t, err)

	_, err = w.TransitionCandidate(ctx, cand.ID, models.CandidateConfirmedInsider, "ana", "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	got, err := repo.GetCandidate(ctx, cand.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CandidateDismissed, got.Status)
	require.NotNil(t, got.ResolvedAt)

	confirmed, err := repo.ListConfirmedInsiders(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, confirmed)

	note, err := w.AddNote(ctx, cand.ID, "bob", "reopened offline")
	require.NoError(t, err)
	assert.Equal(t, models.NoteKindNote, note.Kind)

	a := alertFor(t, repo, 100)
	assert.Equal(t, models.AlertDismissed, a.Status)
}

func TestConfirmRecordsGroundTruth(t *testing.T) {
	w, repo := newWorkflow(t)
	ctx := context.Background()
	cand := promoteOne(t, w, repo, "0xa", 0.8)

	_, err := w.TransitionCandidate(ctx, cand.ID, models.CandidateInvestigating, "ana", "")
	require.NoError(t, err)
	got, err := w.TransitionCandidate(ctx, cand.ID, models.CandidateConfirmedInsider, "ana", "on-chain link to team wallet")
	require.NoError(t, err)
	assert.Equal(t, models.CandidateConfirmedInsider, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(fixedNow))

	confirmed, err := repo.ListConfirmedInsiders(ctx, nil)
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "0xa", confirmed[0].WalletAddress)
	assert.Equal(t, models.ConfidenceConfirmed, confirmed[0].Confidence)
	assert.False(t, confirmed[0].UsedForTraining)

	notes, err := repo.ListCandidateNotes(ctx, cand.ID)
	require.NoError(t, err)
	require.Len(t, notes, 3)
	assert.Equal(t, models.CandidateInvestigating, notes[2].FromStatus)
	assert.Equal(t, models.CandidateConfirmedInsider, notes[2].ToStatus)

	assert.Equal(t, models.AlertResolved, alertFor(t, repo, 100).Status)

	_, err = w.TransitionCandidate(ctx, cand.ID, models.CandidateCleared, "ana", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAddNoteValidation(t *testing.T) {
	w, repo := newWorkflow(t)
	ctx := context.Background()
	cand := promoteOne(t, w, repo, "0xa", 0.8)

	_, err := w.AddNote(ctx, cand.ID, "ana", "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = w.AddNote(ctx, 999, "ana", "hello")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshPriorities(t *testing.T) {
	w, repo := newWorkflow(t)
	ctx := context.Background()
	cand := promoteOne(t, w, repo, "0xa", 0.6)
	assert.Equal(t, models.PriorityMedium, cand.Priority)

	seedScores(t, repo, score(101, "0xa", 0.93, "late_sniper"))
	n, err := w.RefreshPriorities(ctx, []string{"0xa", "0xother"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.GetCandidate(ctx, cand.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityCritical, got.Priority)
	assert.InDelta(t, 0.93, got.PeakScore, 1e-9)
	assert.JSONEq(t, `["late_sniper"]`, string(got.MatchedPatterns))
}

func seedPattern(t *testing.T, repo repository.Repository, name string, matches int64, precision float64) {
	t.Helper()
	ctx := context.Background()
	_, err := repo.CreateInsiderPatternIfMissing(ctx, &models.InsiderPattern{
		Name:       name,
		Predicates: datatypes.JSON(`[{"axis":"size","min_abs":2}]`),
		Enabled:    true,
	})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateInsiderPatternStats(ctx, name, repository.PatternStats{
		MatchCount: matches,
		Precision:  &precision,
		AsOf:       fixedNow,
	}))
}

func TestDiscoverSkipsAlertedWallets(t *testing.T) {
	w, repo := newWorkflow(t)
	ctx := context.Background()
	seedPattern(t, repo, "late_sniper", 10, 0.8)
	seedPattern(t, repo, "noisy", 50, 0.1)
	seedScores(t, repo,
		score(1, "0xquiet", 0.4, "late_sniper"),
		score(2, "0xloud", 0.8, "late_sniper"),
		score(3, "0xnoisy", 0.4, "noisy"),
	)
	_, err := w.RaiseAlerts(ctx, []models.TradeScore{score(2, "0xloud", 0.8, "late_sniper")})
	require.NoError(t, err)

	n, err := w.Discover(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cand, err := repo.GetCandidateByWallet(ctx, "0xquiet")
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, models.CandidateUndiscovered, cand.Status)
	assert.Equal(t, models.PriorityLow, cand.Priority)

	n, err = w.Discover(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueueOrdering(t *testing.T) {
	w, repo := newWorkflow(t)
	ctx := context.Background()
	seedPattern(t, repo, "late_sniper", 10, 0.8)
	seedPattern(t, repo, "fresh_wallet_whale", 10, 0.4)

	mk := func(wallet, priority string, peak float64, patterns string) {
		_, err := repo.CreateCandidateIfMissing(ctx, &models.InvestigationCandidate{
			WalletAddress:   wallet,
			Status:          models.CandidatePendingReview,
			Priority:        priority,
			PeakScore:       peak,
			MatchedPatterns: datatypes.JSON(patterns),
		})
		require.NoError(t, err)
	}
	mk("0xlow", models.PriorityLow, 0.3, `[]`)
	mk("0xhigh-a", models.PriorityHigh, 0.75, `["fresh_wallet_whale"]`)
	mk("0xhigh-b", models.PriorityHigh, 0.75, `["late_sniper"]`)
	mk("0xcrit", models.PriorityCritical, 0.91, `[]`)
	mk("0xdone", models.PriorityCritical, 0.99, `[]`)
	done, err := repo.GetCandidateByWallet(ctx, "0xdone")
	require.NoError(t, err)
	require.NoError(t, repo.CompareAndSetCandidateStatus(ctx, done.ID, models.CandidatePendingReview, models.CandidateDismissed, &fixedNow))

	items, err := w.Queue(ctx, 10)
	require.NoError(t, err)
	var order []string
	for _, it := range items {
		order = append(order, it.Candidate.WalletAddress)
	}
	assert.Equal(t, []string{"0xcrit", "0xhigh-b", "0xhigh-a", "0xlow"}, order)
	require.NotNil(t, items[1].BestPrecision)
	assert.InDelta(t, 0.8, *items[1].BestPrecision, 1e-9)

	items, err = w.Queue(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
