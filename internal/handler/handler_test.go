package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"

	"insiderwatch/internal/config"
	"insiderwatch/internal/feedback"
	"insiderwatch/internal/investigation"
	"insiderwatch/internal/jobs"
	"insiderwatch/internal/models"
	"insiderwatch/internal/repository"
	"insiderwatch/internal/settings"
	"insiderwatch/internal/testdb"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

type server struct {
	engine   *gin.Engine
	repo     repository.Repository
	workflow *investigation.Workflow
	settings *settings.Service
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := testdb.Open(t)
	cfg := config.Default()
	svc := &settings.Service{Repo: repo, Defaults: settings.DefaultsFromConfig(cfg)}
	workflow := &investigation.Workflow{
		Repo:               repo,
		Settings:           svc,
		Logger:             zaptest.NewLogger(t),
		DiscoveryPrecision: cfg.Patterns.DiscoveryPrecision,
	}
	loop := &feedback.Loop{Repo: repo, Settings: svc, Config: cfg.Feedback, Logger: zaptest.NewLogger(t)}

	queue := jobs.NewInline(zaptest.NewLogger(t), jobs.RetryPolicy{})
	require.NoError(t, queue.Register(jobs.Job{Name: "noop", Run: func(context.Context) error { return nil }}))
	require.NoError(t, queue.Register(jobs.Job{Name: "broken", Run: func(context.Context) error { return errors.New("boom") }}))

	r := gin.New()
	(&HealthHandler{DB: PingFunc(func(context.Context) error { return nil })}).Register(r)
	(&AlertsHandler{Repo: repo, Workflow: workflow}).Register(r)
	(&CandidatesHandler{Repo: repo, Workflow: workflow}).Register(r)
	(&ScoresHandler{Repo: repo}).Register(r)
	(&FeedbackHandler{Repo: repo, Loop: loop}).Register(r)
	(&SettingsHandler{Repo: repo, Settings: svc}).Register(r)
	(&JobsHandler{Queue: queue}).Register(r)
	return &server{engine: r, repo: repo, workflow: workflow, settings: svc}
}

func (s *server) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (s *server) seedAlerts(t *testing.T, scores map[uint64]float64, wallet string) []models.Alert {
	t.Helper()
	ctx := context.Background()
	items := make([]models.TradeScore, 0, len(scores))
	for tradeID, v := range scores {
		items = append(items, models.TradeScore{
			TradeID:         tradeID,
			WalletAddress:   wallet,
			MarketID:        "m-1",
			AnomalyScore:    v,
			EnsembleScore:   v,
			Severity:        investigation.Tier(v),
			MatchedPatterns: datatypes.JSON(`["trinity"]`),
			DataQuality:     datatypes.JSON(`[]`),
			ScoredAt:        time.Now().UTC(),
		})
	}
	require.NoError(t, s.repo.UpsertTradeScores(ctx, items))
	_, err := s.workflow.RaiseAlerts(ctx, items)
	require.NoError(t, err)
	alerts, err := s.repo.ListAlerts(ctx, repository.ListAlertsParams{Limit: 100, OrderBy: "trade_id", Asc: boolPtr(true)})
	require.NoError(t, err)
	return alerts
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func TestHealthEndpoints(t *testing.T) {
	s := newServer(t)
	code, _ := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, code)

	r := gin.New()
	(&HealthHandler{
		DB:    PingFunc(func(context.Context) error { return nil }),
		Cache: PingFunc(func(context.Context) error { return errors.New("down") }),
	}).Register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "cache_unreachable")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAlertsListAndPromote(t *testing.T) {
	s := newServer(t)
	alerts := s.seedAlerts(t, map[uint64]float64{1: 0.95, 2: 0.8, 3: 0.2}, "0xabc")
	require.Len(t, alerts, 2)

	code, env := s.do(t, http.MethodGet, "/api/v2/alerts", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, env.Meta["total"])

	code, env = s.do(t, http.MethodGet, "/api/v2/alerts?order_by=ensemble_score&asc=true", nil)
	require.Equal(t, http.StatusOK, code)
	listed := decode[[]models.Alert](t, env.Data)
	require.Len(t, listed, 2)
	assert.EqualValues(t, 2, listed[0].TradeID)

	code, env = s.do(t, http.MethodGet, "/api/v2/alerts?severity=critical", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, env.Meta["total"])

	code, env = s.do(t, http.MethodPost, fmt.Sprintf("/api/v2/alerts/%d/promote", alerts[0].ID), promoteRequest{Actor: "ana"})
	require.Equal(t, http.StatusOK, code, env.Message)
	cand := decode[models.InvestigationCandidate](t, env.Data)
	assert.Equal(t, models.CandidatePendingReview, cand.Status)
	assert.Equal(t, models.PriorityCritical, cand.Priority)

	code, env = s.do(t, http.MethodPost, fmt.Sprintf("/api/v2/alerts/%d/promote", alerts[1].ID), nil)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "candidate_exists", env.Meta["error"])
	assert.Equal(t, false, env.Meta["terminal"])
	assert.Equal(t, models.CandidatePendingReview, env.Meta["candidate_status"])
	existing := decode[models.InvestigationCandidate](t, env.Data)
	assert.Equal(t, cand.ID, existing.ID)

	code, env = s.do(t, http.MethodGet, fmt.Sprintf("/api/v2/alerts/%d", alerts[0].ID), nil)
	require.Equal(t, http.StatusOK, code)
	got := decode[models.Alert](t, env.Data)
	assert.Equal(t, models.AlertInvestigating, got.Status)
	require.NotNil(t, got.CandidateID)
	assert.Equal(t, cand.ID, *got.CandidateID)
}

func TestPromoteAfterDismissedCandidateIsTerminal(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	alerts := s.seedAlerts(t, map[uint64]float64{21: 0.9, 22: 0.8}, "0x222")
	require.Len(t, alerts, 2)
	cand, err := s.workflow.Promote(ctx, alerts[0].ID, "ana")
	require.NoError(t, err)
	_, err = s.workflow.TransitionCandidate(ctx, cand.ID, models.CandidateDismissed, "ana", "noise")
	require.NoError(t, err)

	code, env := s.do(t, http.MethodPost, fmt.Sprintf("/api/v2/alerts/%d/promote", alerts[1].ID), nil)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "candidate_exists", env.Meta["error"])
	assert.Equal(t, true, env.Meta["terminal"])
	assert.Equal(t, models.CandidateDismissed, env.Meta["candidate_status"])
	assert.Contains(t, env.Message, "terminal")
	existing := decode[models.InvestigationCandidate](t, env.Data)
	assert.Equal(t, cand.ID, existing.ID)
}

func TestAlertErrors(t *testing.T) {
	s := newServer(t)
	alerts := s.seedAlerts(t, map[uint64]float64{7: 0.9}, "0xdef")

	code, env := s.do(t, http.MethodGet, "/api/v2/alerts/999", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Meta["error"])

	code, _ = s.do(t, http.MethodPost, "/api/v2/alerts/abc/transition", transitionRequest{To: models.AlertDismissed})
	assert.Equal(t, http.StatusBadRequest, code)

	path := fmt.Sprintf("/api/v2/alerts/%d/transition", alerts[0].ID)
	code, _ = s.do(t, http.MethodPost, path, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodPost, path, transitionRequest{To: models.AlertResolved})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", env.Meta["error"])

	code, env = s.do(t, http.MethodPost, path, transitionRequest{To: models.AlertAcknowledged, Actor: "ana", Note: "seen"})
	require.Equal(t, http.StatusOK, code)
	got := decode[models.Alert](t, env.Data)
	assert.Equal(t, models.AlertAcknowledged, got.Status)
	assert.Equal(t, "ana", got.UpdatedBy)
}

func TestCandidateLifecycle(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	alerts := s.seedAlerts(t, map[uint64]float64{11: 0.75}, "0x111")
	cand, err := s.workflow.Promote(ctx, alerts[0].ID, "ana")
	require.NoError(t, err)
	base := fmt.Sprintf("/api/v2/candidates/%d", cand.ID)

	code, env := s.do(t, http.MethodGet, "/api/v2/candidates/queue", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, env.Meta["count"])

	code, env = s.do(t, http.MethodPost, base+"/notes", noteRequest{Body: "   "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_input", env.Meta["error"])

	code, _ = s.do(t, http.MethodPost, base+"/notes", noteRequest{Author: "ana", Body: "funding wallet traced"})
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodPost, base+"/transition", transitionRequest{To: models.CandidateInvestigating, Actor: "ana"})
	require.Equal(t, http.StatusOK, code)
	code, env = s.do(t, http.MethodPost, base+"/transition", transitionRequest{To: models.CandidateConfirmedInsider, Actor: "ana"})
	require.Equal(t, http.StatusOK, code, env.Message)
	updated := decode[models.InvestigationCandidate](t, env.Data)
	assert.Equal(t, models.CandidateConfirmedInsider, updated.Status)
	assert.NotNil(t, updated.ResolvedAt)

	code, env = s.do(t, http.MethodPost, base+"/transition", transitionRequest{To: models.CandidateCleared})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", env.Meta["error"])

	code, env = s.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, code)
	detail := decode[candidateDetail](t, env.Data)
	assert.Equal(t, models.CandidateConfirmedInsider, detail.Candidate.Status)
	assert.Len(t, detail.Notes, 4)

	code, env = s.do(t, http.MethodGet, base+"/notes", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 4, env.Meta["count"])

	code, env = s.do(t, http.MethodGet, "/api/v2/candidates?status=confirmed_insider,likely_insider", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, env.Meta["total"])

	code, env = s.do(t, http.MethodGet, "/api/v2/candidates/queue", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, env.Meta["count"])

	code, _ = s.do(t, http.MethodGet, "/api/v2/candidates/424242", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestScoresEndpoints(t *testing.T) {
	s := newServer(t)
	s.seedAlerts(t, map[uint64]float64{21: 0.9, 22: 0.3}, "0x222")

	code, env := s.do(t, http.MethodGet, "/api/v2/scores?min_score=0.5", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, env.Meta["total"])

	code, env = s.do(t, http.MethodGet, "/api/v2/scores/trades/22", nil)
	require.Equal(t, http.StatusOK, code)
	sc := decode[models.TradeScore](t, env.Data)
	assert.InDelta(t, 0.3, sc.EnsembleScore, 1e-9)

	code, _ = s.do(t, http.MethodGet, "/api/v2/scores/trades/23", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestThresholdSettings(t *testing.T) {
	s := newServer(t)
	code, env := s.do(t, http.MethodGet, "/api/v2/settings/thresholds", nil)
	require.Equal(t, http.StatusOK, code)
	current := decode[settings.Thresholds](t, env.Data)
	assert.Equal(t, s.settings.Defaults, current)

	bad := current
	bad.AnomalyThreshold = 2
	code, _ = s.do(t, http.MethodPut, "/api/v2/settings/thresholds", bad)
	assert.Equal(t, http.StatusBadRequest, code)

	next := current
	next.AlertThreshold = 0.8
	next.Source = ""
	code, env = s.do(t, http.MethodPut, "/api/v2/settings/thresholds", next)
	require.Equal(t, http.StatusOK, code, env.Message)
	stored := decode[settings.Thresholds](t, env.Data)
	assert.InDelta(t, 0.8, stored.AlertThreshold, 1e-9)
	assert.Equal(t, "api", stored.Source)
	assert.Equal(t, stored, s.settings.Thresholds(context.Background()))
}

func TestFeedbackEndpoints(t *testing.T) {
	s := newServer(t)
	code, env := s.do(t, http.MethodPost, "/api/v2/feedback/runs", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	report := decode[feedback.Report](t, env.Data)
	assert.Nil(t, report.Recommendation)
	assert.NotEmpty(t, report.RunID)

	code, env = s.do(t, http.MethodGet, "/api/v2/feedback/runs/"+report.RunID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, env.Meta["applied"])

	code, env = s.do(t, http.MethodPost, "/api/v2/feedback/runs/"+report.RunID+"/apply", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "no_recommendation", env.Meta["error"])

	code, _ = s.do(t, http.MethodPost, "/api/v2/feedback/runs/nope/apply", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodGet, "/api/v2/feedback/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.do(t, http.MethodGet, "/api/v2/feedback/runs", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, env.Meta["count"])
}

func TestJobTrigger(t *testing.T) {
	s := newServer(t)
	code, env := s.do(t, http.MethodPost, "/api/v2/jobs/noop/trigger", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"job":"noop"`)

	code, _ = s.do(t, http.MethodPost, "/api/v2/jobs/missing/trigger", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.do(t, http.MethodPost, "/api/v2/jobs/broken/trigger", nil)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, env.Message, "boom")
}
