// Package scoring runs trades through feature extraction, rule, pattern, ML
// and ensemble scoring in batches and persists the results.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"insiderwatch/internal/baseline"
	"insiderwatch/internal/config"
	"insiderwatch/internal/ensemble"
	"insiderwatch/internal/features"
	"insiderwatch/internal/investigation"
	"insiderwatch/internal/metrics"
	"insiderwatch/internal/ml"
	"insiderwatch/internal/models"
	"insiderwatch/internal/pattern"
	"insiderwatch/internal/repository"
	"insiderwatch/internal/rules"
	"insiderwatch/internal/settings"
)

// ErrNoTrades means nothing matched the run options. It is not a failure.
var ErrNoTrades = errors.New("scoring: no trades to score")

const (
	WarnMLInsufficientData = "ml_insufficient_data"
	WarnMLDisabled         = "ml_disabled"

	defaultBatchSize = 500
)

type Options struct {
	// Limit caps the number of trades scored in this run; 0 means no cap.
	Limit        int
	BatchSize    int
	UnscoredOnly bool
	MarketID     string
	DryRun       bool
	// Workers splits the trade id range into this many disjoint shards.
	Workers int
}

type Failure struct {
	TradeID uint64 `json:"trade_id"`
	Reason  string `json:"reason"`
}

type Summary struct {
	Scored       int       `json:"scored"`
	Errors       int       `json:"errors"`
	Batches      int       `json:"batches"`
	MLDegraded   int       `json:"ml_degraded"`
	AlertsRaised int       `json:"alerts_raised"`
	DryRun       bool      `json:"dry_run"`
	Failures     []Failure `json:"failures,omitempty"`
}

func (s *Summary) merge(b batchResult) {
	s.Scored += len(b.scores)
	s.Errors += len(b.failures)
	s.Batches++
	if b.degraded {
		s.MLDegraded++
	}
	s.AlertsRaised += b.alerts
	s.Failures = append(s.Failures, b.failures...)
}

type Pipeline struct {
	Repo     repository.Repository
	Features *features.Engineer
	Rules    *rules.Scorer
	Patterns *pattern.Matcher
	// ML is nil when the detector is disabled.
	ML       *ml.Detector
	Ensemble *ensemble.Scorer
	// Workflow, when set, raises alerts and refreshes candidate priorities
	// after every persisted batch.
	Workflow    *investigation.Workflow
	Concurrency int
	Logger      *zap.Logger
	Now         func() time.Time
}

// New wires a pipeline from configuration.
func New(cfg config.Config, repo repository.Repository, baselines baseline.Provider, matcher *pattern.Matcher, workflow *investigation.Workflow, logger *zap.Logger) *Pipeline {
	p := &Pipeline{
		Repo:        repo,
		Features:    features.New(cfg.Features),
		Rules:       rules.New(cfg.Rules, baselines),
		Patterns:    matcher,
		Ensemble:    ensemble.New(cfg.Ensemble),
		Workflow:    workflow,
		Concurrency: cfg.Scoring.Concurrency,
		Logger:      logger,
	}
	if cfg.ML.Enabled {
		p.ML = ml.New(cfg.ML)
	}
	return p
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// Shard is an inclusive trade id range.
type Shard struct {
	MinID uint64
	MaxID uint64
}

// Shards splits [minID, maxID] into at most n disjoint contiguous ranges that
// cover it exactly.
func Shards(minID, maxID uint64, n int) []Shard {
	if maxID < minID {
		return nil
	}
	if n < 1 {
		n = 1
	}
	span := maxID - minID + 1
	if uint64(n) > span {
		n = int(span)
	}
	size := span / uint64(n)
	rem := span % uint64(n)
	out := make([]Shard, 0, n)
	start := minID
	for i := 0; i < n; i++ {
		width := size
		if uint64(i) < rem {
			width++
		}
		out = append(out, Shard{MinID: start, MaxID: start + width - 1})
		start += width
	}
	return out
}

// budget hands out the run-wide trade limit to concurrent workers.
type budget struct {
	mu        sync.Mutex
	remaining int
	unlimited bool
}

func (b *budget) take(n int) int {
	if b.unlimited {
		return n
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n = min(n, b.remaining)
	b.remaining -= n
	return n
}

func (b *budget) giveBack(n int) {
	if b.unlimited || n <= 0 {
		return
	}
	b.mu.Lock()
	b.remaining += n
	b.mu.Unlock()
}

// Run scores trades in ascending id order. Per-trade failures are collected
// in the summary; repository failures abort the run.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Summary, error) {
	summary := Summary{DryRun: opts.DryRun}
	if p == nil || p.Repo == nil {
		return summary, errors.New("scoring: repository unavailable")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	params := repository.ListTradesParams{UnscoredOnly: opts.UnscoredOnly}
	if opts.MarketID != "" {
		params.MarketID = &opts.MarketID
	}
	idRange, err := p.Repo.TradeIDRange(ctx, params)
	if err != nil {
		return summary, fmt.Errorf("trade id range: %w", err)
	}
	if idRange.Count == 0 {
		return summary, ErrNoTrades
	}

	shards := Shards(idRange.MinID, idRange.MaxID, opts.Workers)
	quota := &budget{remaining: opts.Limit, unlimited: opts.Limit <= 0}

	var (
		mu      sync.Mutex
		wallets = map[string]struct{}{}
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, shard := range shards {
		g.Go(func() error {
			var afterID uint64
			if shard.MinID > 0 {
				afterID = shard.MinID - 1
			}
			maxID := shard.MaxID
			for {
				want := quota.take(opts.BatchSize)
				if want == 0 {
					return nil
				}
				q := params
				q.Limit = want
				q.AfterID = afterID
				q.MaxID = &maxID
				trades, err := p.Repo.ListTrades(gctx, q)
				if err != nil {
					quota.giveBack(want)
					return fmt.Errorf("list trades after %d: %w", afterID, err)
				}
				quota.giveBack(want - len(trades))
				if len(trades) == 0 {
					return nil
				}
				afterID = trades[len(trades)-1].ID

				res, err := p.scoreBatch(gctx, trades, opts.DryRun)
				if err != nil {
					return err
				}
				mu.Lock()
				summary.merge(res)
				for _, sc := range res.scores {
					wallets[sc.WalletAddress] = struct{}{}
				}
				mu.Unlock()

				if len(trades) < want {
					return nil
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	if !opts.DryRun && p.Workflow != nil && len(wallets) > 0 {
		list := make([]string, 0, len(wallets))
		for w := range wallets {
			list = append(list, w)
		}
		sort.Strings(list)
		if _, err := p.Workflow.RefreshPriorities(ctx, list); err != nil {
			return summary, fmt.Errorf("refresh priorities: %w", err)
		}
	}
	sort.Slice(summary.Failures, func(i, j int) bool { return summary.Failures[i].TradeID < summary.Failures[j].TradeID })

	if p.Logger != nil {
		p.Logger.Info("scoring run complete",
			zap.Int("scored", summary.Scored),
			zap.Int("errors", summary.Errors),
			zap.Int("batches", summary.Batches),
			zap.Int("ml_degraded", summary.MLDegraded),
			zap.Int("alerts_raised", summary.AlertsRaised),
			zap.Bool("dry_run", summary.DryRun),
		)
	}
	return summary, nil
}

type batchResult struct {
	scores   []models.TradeScore
	failures []Failure
	degraded bool
	alerts   int
}

type tradeEval struct {
	vector   features.Vector
	rule     rules.Result
	match    pattern.Match
	warnings []string
	err      error
}

// ScoreBatch scores trades without persisting anything. Trades must be in
// ascending id order for results to be reproducible.
func (p *Pipeline) ScoreBatch(ctx context.Context, trades []models.Trade) ([]models.TradeScore, []Failure, bool, error) {
	res, err := p.scoreBatch(ctx, trades, true)
	return res.scores, res.failures, res.degraded, err
}

func (p *Pipeline) scoreBatch(ctx context.Context, trades []models.Trade, dryRun bool) (batchResult, error) {
	started := time.Now()
	defer func() { metrics.BatchDuration.Observe(time.Since(started).Seconds()) }()

	var out batchResult
	walletRows, err := p.Repo.ListWalletsByAddress(ctx, walletAddresses(trades))
	if err != nil {
		return out, fmt.Errorf("load wallets: %w", err)
	}
	walletByAddr := make(map[string]*models.Wallet, len(walletRows))
	for i := range walletRows {
		walletByAddr[walletRows[i].Address] = &walletRows[i]
	}

	evals := make([]tradeEval, len(trades))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.Concurrency, 1))
	for i := range trades {
		g.Go(func() error {
			evals[i] = p.evaluate(gctx, trades[i], walletByAddr[trades[i].WalletAddress])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return out, err
	}

	ok := make([]int, 0, len(trades))
	for i, ev := range evals {
		if ev.err != nil {
			out.failures = append(out.failures, Failure{TradeID: trades[i].ID, Reason: ev.err.Error()})
			metrics.TradesScored.WithLabelValues("error").Inc()
			continue
		}
		ok = append(ok, i)
	}
	if len(ok) == 0 {
		return out, nil
	}

	mlScores, mlWarning, err := p.detect(ctx, evals, ok)
	if err != nil {
		return out, err
	}
	out.degraded = mlScores == nil
	if out.degraded {
		metrics.MLDegradedBatches.Inc()
	}

	batchID := uuid.NewString()
	scoredAt := p.now()
	for k, i := range ok {
		trade, ev := trades[i], evals[i]
		in := ensemble.Input{
			RuleScore:    ev.rule.AnomalyScore,
			PatternScore: ev.match.HighestScore,
			Trinity:      ev.match.Trinity,
			WasCorrect:   trade.WasCorrect,
		}
		row := models.TradeScore{
			TradeID:                trade.ID,
			WalletAddress:          trade.WalletAddress,
			MarketID:               trade.MarketID,
			SizeZ:                  ev.rule.Z[features.AxisSize],
			TimingZ:                ev.rule.Z[features.AxisTiming],
			WalletAgeZ:             ev.rule.Z[features.AxisWalletAge],
			WalletActivityZ:        ev.rule.Z[features.AxisWalletActivity],
			PriceExtremityZ:        ev.rule.Z[features.AxisPriceExtremity],
			PositionConcentrationZ: ev.rule.Z[features.AxisPositionConcentration],
			FundingProximityZ:      ev.rule.Z[features.AxisFundingProximity],
			AnomalyScore:           ev.rule.AnomalyScore,
			HighestPatternScore:    ev.match.HighestScore,
			TrinityPattern:         ev.match.Trinity,
			WasCorrect:             trade.WasCorrect,
			BatchID:                batchID,
			ScoredAt:               scoredAt,
		}
		warnings := ev.warnings
		if mlScores != nil {
			s := mlScores[k]
			anomaly, conf := s.Anomaly, s.Confidence
			in.MLScore, in.MLConfidence = &anomaly, &conf
			row.MLAnomalyScore, row.MLConfidence, row.MLOutlier = &anomaly, &conf, s.Outlier
		} else {
			warnings = append(warnings, mlWarning)
		}
		row.EnsembleScore = p.Ensemble.Score(in).Score
		row.Severity = investigation.Tier(row.EnsembleScore)
		row.MatchedPatterns = jsonList(ev.match.Matched)
		row.DataQuality = jsonList(warnings)
		out.scores = append(out.scores, row)
	}

	if !dryRun {
		var th settings.Thresholds
		if p.Workflow != nil {
			th = p.Workflow.ActiveThresholds(ctx)
		}
		alerts := 0
		// Scores and their alerts commit together so a retry of a failed
		// batch still finds the trades unscored.
		err := p.Repo.InTx(ctx, func(tx repository.Repository) error {
			if err := tx.UpsertTradeScores(ctx, out.scores); err != nil {
				return err
			}
			if p.Workflow == nil {
				return nil
			}
			n, err := investigation.RaiseAlertsIn(ctx, tx, th, out.scores)
			if err != nil {
				return fmt.Errorf("raise alerts: %w", err)
			}
			alerts = n
			return nil
		})
		if err != nil {
			return out, fmt.Errorf("persist batch %s: %w", batchID, err)
		}
		out.alerts = alerts
		metrics.AlertsRaised.Add(float64(alerts))
	}
	metrics.TradesScored.WithLabelValues("ok").Add(float64(len(out.scores)))
	if p.Logger != nil {
		p.Logger.Debug("batch scored",
			zap.String("batch_id", batchID),
			zap.Int("trades", len(trades)),
			zap.Int("scored", len(out.scores)),
			zap.Int("failed", len(out.failures)),
			zap.Bool("ml_degraded", out.degraded),
		)
	}
	return out, nil
}

func (p *Pipeline) evaluate(ctx context.Context, trade models.Trade, wallet *models.Wallet) tradeEval {
	var ev tradeEval
	ev.vector, ev.warnings = p.Features.Extract(trade, wallet)
	res, err := p.Rules.Score(ctx, trade, wallet)
	if err != nil {
		ev.err = fmt.Errorf("rules: %w", err)
		return ev
	}
	ev.rule = res
	ev.warnings = append(ev.warnings, res.Warnings...)
	if p.Patterns != nil {
		ev.match = p.Patterns.Match(res.Z)
	}
	if ev.match.Matched == nil {
		ev.match.Matched = []string{}
	}
	return ev
}

// detect runs the batch-wide ML pass over the successfully evaluated trades.
// A nil result means the ensemble runs degraded; the returned string is the
// data-quality warning explaining why.
func (p *Pipeline) detect(ctx context.Context, evals []tradeEval, ok []int) ([]ml.Score, string, error) {
	if p.ML == nil {
		return nil, WarnMLDisabled, nil
	}
	rows := make([][]float64, 0, len(ok))
	for _, i := range ok {
		rows = append(rows, evals[i].vector.Slice())
	}
	res, err := p.ML.FitScore(ctx, rows)
	switch {
	case errors.Is(err, ml.ErrInsufficientData):
		if p.Logger != nil {
			p.Logger.Debug("ml skipped for batch", zap.Int("rows", len(rows)), zap.Error(err))
		}
		return nil, WarnMLInsufficientData, nil
	case err != nil:
		return nil, "", fmt.Errorf("ml: %w", err)
	}
	return res.Scores, "", nil
}

func walletAddresses(trades []models.Trade) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(trades))
	for _, t := range trades {
		if _, ok := seen[t.WalletAddress]; ok || t.WalletAddress == "" {
			continue
		}
		seen[t.WalletAddress] = struct{}{}
		out = append(out, t.WalletAddress)
	}
	return out
}

func jsonList(items []string) datatypes.JSON {
	if items == nil {
		items = []string{}
	}
	raw, _ := json.Marshal(items)
	return datatypes.JSON(raw)
}
