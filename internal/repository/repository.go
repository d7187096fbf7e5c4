package repository

import (
	"context"
	"errors"
	"time"

	"insiderwatch/internal/models"
)

// ErrStaleState is returned by compare-and-set updates when the row was not in
// the expected state (or does not exist).
var ErrStaleState = errors.New("repository: stale state")

// Repository is the persistence boundary of the scoring engine.
//
// Write semantics:
//   - Upsert* replaces the mutable columns of the row identified by its
//     natural key (trade_id, wallet_address, name, key, scope+axis).
//   - Create*IfMissing inserts unless a row with the natural key exists and
//     reports whether a row was created; the existing row is left untouched.
//   - CompareAndSet* only updates a row still in the expected status and
//     returns ErrStaleState otherwise.
type Repository interface {
	// InTx runs fn against a repository bound to one database transaction.
	InTx(ctx context.Context, fn func(Repository) error) error

	// Upstream inputs, written by ingestion.
	CreateTrades(ctx context.Context, items []models.Trade) error
	SetTradeOutcome(ctx context.Context, tradeID uint64, wasCorrect bool) error
	GetTrade(ctx context.Context, id uint64) (*models.Trade, error)
	ListTrades(ctx context.Context, params ListTradesParams) ([]models.Trade, error)
	TradeIDRange(ctx context.Context, params ListTradesParams) (TradeIDRange, error)
	CountTradesByWallets(ctx context.Context, wallets []string, before *time.Time) (map[string]int64, error)
	UpsertWallets(ctx context.Context, items []models.Wallet) error
	ListWalletsByAddress(ctx context.Context, addresses []string) ([]models.Wallet, error)
	UpsertBaselines(ctx context.Context, items []models.Baseline) error
	ListBaselinesByScope(ctx context.Context, scope string) ([]models.Baseline, error)

	// Scores.
	UpsertTradeScores(ctx context.Context, items []models.TradeScore) error
	GetTradeScoreByTradeID(ctx context.Context, tradeID uint64) (*models.TradeScore, error)
	ListTradeScores(ctx context.Context, params ListTradeScoresParams) ([]models.TradeScore, error)
	CountTradeScores(ctx context.Context, params ListTradeScoresParams) (int64, error)
	// scoredBefore filters on the first time a trade was scored, so a
	// later rescore does not move a row out of an earlier snapshot.
	ListTradeScoresByWallets(ctx context.Context, wallets []string, scoredBefore *time.Time) ([]models.TradeScore, error)
	EachTradeScore(ctx context.Context, scoredBefore *time.Time, batchSize int, fn func([]models.TradeScore) error) error

	// Patterns.
	CreateInsiderPatternIfMissing(ctx context.Context, item *models.InsiderPattern) (bool, error)
	ListInsiderPatterns(ctx context.Context, enabledOnly bool) ([]models.InsiderPattern, error)
	UpdateInsiderPatternStats(ctx context.Context, name string, stats PatternStats) error

	// Alerts.
	CreateAlertIfMissing(ctx context.Context, item *models.Alert) (bool, error)
	RefreshAlertScore(ctx context.Context, tradeID uint64, score float64, severity string, statuses []string) error
	GetAlert(ctx context.Context, id uint64) (*models.Alert, error)
	ListAlerts(ctx context.Context, params ListAlertsParams) ([]models.Alert, error)
	CountAlerts(ctx context.Context, params ListAlertsParams) (int64, error)
	CountAlertsByWallets(ctx context.Context, wallets []string) (map[string]int64, error)
	CompareAndSetAlertStatus(ctx context.Context, id uint64, from, to string, change AlertChange) error

	// Candidates and their audit trail.
	CreateCandidateIfMissing(ctx context.Context, item *models.InvestigationCandidate) (bool, error)
	GetCandidate(ctx context.Context, id uint64) (*models.InvestigationCandidate, error)
	GetCandidateByWallet(ctx context.Context, wallet string) (*models.InvestigationCandidate, error)
	ListCandidates(ctx context.Context, params ListCandidatesParams) ([]models.InvestigationCandidate, error)
	CountCandidates(ctx context.Context, params ListCandidatesParams) (int64, error)
	ListCandidatesByStatus(ctx context.Context, statuses []string, updatedBefore *time.Time) ([]models.InvestigationCandidate, error)
	CompareAndSetCandidateStatus(ctx context.Context, id uint64, from, to string, resolvedAt *time.Time) error
	UpdateCandidatePriority(ctx context.Context, id uint64, update CandidatePriority, statuses []string) error
	CreateCandidateNote(ctx context.Context, item *models.CandidateNote) error
	ListCandidateNotes(ctx context.Context, candidateID uint64) ([]models.CandidateNote, error)

	// Ground truth.
	UpsertConfirmedInsider(ctx context.Context, item *models.ConfirmedInsider) error
	ListConfirmedInsiders(ctx context.Context, confirmedBefore *time.Time) ([]models.ConfirmedInsider, error)
	MarkConfirmedInsidersForTraining(ctx context.Context, wallets []string) error

	// Feedback runs.
	CreateFeedbackRun(ctx context.Context, item *models.FeedbackRun) error
	GetFeedbackRun(ctx context.Context, runID string) (*models.FeedbackRun, error)
	ListFeedbackRuns(ctx context.Context, limit, offset int) ([]models.FeedbackRun, error)
	MarkFeedbackRunApplied(ctx context.Context, runID string) error

	// Runtime settings.
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
	CountSystemSettings(ctx context.Context, params ListSystemSettingsParams) (int64, error)
}

// ListTradesParams pages trades in ascending id order.
type ListTradesParams struct {
	Limit        int
	AfterID      uint64
	MaxID        *uint64
	MarketID     *string
	UnscoredOnly bool
}

type TradeIDRange struct {
	MinID uint64
	MaxID uint64
	Count int64
}

type ListTradeScoresParams struct {
	Limit         int
	Offset        int
	WalletAddress *string
	MarketID      *string
	Severity      *string
	MinEnsemble   *float64
	Trinity       *bool
	OrderBy       string
	Asc           *bool
}

type PatternStats struct {
	MatchCount     int64
	ConfirmedCount int64
	Precision      *float64
	AsOf           time.Time
}

type ListAlertsParams struct {
	Limit         int
	Offset        int
	Status        *string
	Severity      *string
	WalletAddress *string
	OrderBy       string
	Asc           *bool
}

// AlertChange carries the columns written alongside an alert status change.
type AlertChange struct {
	Note        string
	UpdatedBy   string
	CandidateID *uint64
}

type ListCandidatesParams struct {
	Limit    int
	Offset   int
	Statuses []string
	Priority *string
	OrderBy  string
	Asc      *bool
}

type CandidatePriority struct {
	Priority        string
	PeakScore       float64
	AlertCount      int
	MatchedPatterns []string
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}
