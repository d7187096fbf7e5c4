// Package feedback evaluates detection against confirmed ground truth and
// recommends new thresholds.
package feedback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"insiderwatch/internal/config"
	"insiderwatch/internal/metrics"
	"insiderwatch/internal/models"
	"insiderwatch/internal/repository"
	"insiderwatch/internal/settings"
)

var (
	ErrRunNotFound      = errors.New("feedback run not found")
	ErrNoRecommendation = errors.New("feedback run has no recommendation")
	ErrAlreadyApplied   = errors.New("feedback run already applied")
)

// False-negative reasons.
const (
	ReasonNoTradeData    = "no_trade_data"
	ReasonTradeNotScored = "trade_not_scored"
	ReasonLowAnomaly     = "low_anomaly_score"
	ReasonLowProbability = "low_probability"
)

const scanBatchSize = 1000

// ThresholdStore reads and writes the active detection thresholds.
type ThresholdStore interface {
	Thresholds(ctx context.Context) settings.Thresholds
	SetThresholds(ctx context.Context, t settings.Thresholds, description string) error
}

type Evaluation struct {
	Positives      int     `json:"positives"`
	Negatives      int     `json:"negatives"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	TrueNegatives  int     `json:"true_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

type Recommendation struct {
	AnomalyThreshold     float64  `json:"anomaly_threshold"`
	ProbabilityThreshold float64  `json:"probability_threshold"`
	F1                   float64  `json:"f1"`
	TunedOnHeldOut       bool     `json:"tuned_on_held_out"`
	TuningPositives      []string `json:"tuning_positives"`
	TuningNegatives      int      `json:"tuning_negatives"`
}

type FalseNegative struct {
	WalletAddress string `json:"wallet_address"`
	Reason        string `json:"reason"`
}

type PatternStat struct {
	Name           string   `json:"name"`
	MatchCount     int64    `json:"match_count"`
	ConfirmedCount int64    `json:"confirmed_count"`
	Precision      *float64 `json:"precision"`
}

// Report is the outcome of one evaluation. Fingerprint hashes every other
// field except RunID, so two runs over the same snapshot share it.
type Report struct {
	RunID string    `json:"run_id"`
	AsOf  time.Time `json:"as_of"`

	AnomalyThreshold     float64 `json:"anomaly_threshold"`
	ProbabilityThreshold float64 `json:"probability_threshold"`

	ConfirmedInsiders int     `json:"confirmed_insiders"`
	Detected          int     `json:"detected"`
	DetectionRate     float64 `json:"detection_rate"`

	HeldOut         Evaluation      `json:"held_out"`
	Recommendation  *Recommendation `json:"recommendation"`
	FalseNegatives  []FalseNegative `json:"false_negatives"`
	FalseNegByCause map[string]int  `json:"false_negatives_by_reason"`
	Patterns        []PatternStat   `json:"patterns"`

	Fingerprint string `json:"fingerprint"`
}

type Loop struct {
	Repo     repository.Repository
	Settings ThresholdStore
	Config   config.FeedbackConfig
	Logger   *zap.Logger
}

type point struct {
	anomaly  float64
	ensemble float64
}

func detected(points []point, anomaly, probability float64) bool {
	for _, p := range points {
		if p.anomaly >= anomaly && p.ensemble >= probability {
			return true
		}
	}
	return false
}

// Run evaluates the snapshot of rows created or scored at or before asOf,
// rewrites pattern statistics, and persists the report as a feedback run.
func (l *Loop) Run(ctx context.Context, asOf time.Time) (*Report, error) {
	if l == nil || l.Repo == nil {
		return nil, errors.New("feedback: repository unavailable")
	}
	asOf = asOf.UTC()
	current := settings.Thresholds{
		AnomalyThreshold:     l.Config.AnomalyThreshold,
		ProbabilityThreshold: l.Config.ProbabilityThreshold,
	}
	if l.Settings != nil {
		current = l.Settings.Thresholds(ctx)
	}

	confirmed, err := l.Repo.ListConfirmedInsiders(ctx, &asOf)
	if err != nil {
		return nil, fmt.Errorf("list confirmed insiders: %w", err)
	}
	resolved, err := l.Repo.ListCandidatesByStatus(ctx, []string{models.CandidateFalsePositive, models.CandidateCleared}, &asOf)
	if err != nil {
		return nil, fmt.Errorf("list resolved candidates: %w", err)
	}

	positive := map[string]bool{}
	var heldOut, training []string
	for _, c := range confirmed {
		positive[c.WalletAddress] = true
		if c.UsedForTraining {
			training = append(training, c.WalletAddress)
		} else {
			heldOut = append(heldOut, c.WalletAddress)
		}
	}
	var negatives []string
	for _, c := range resolved {
		if !positive[c.WalletAddress] {
			negatives = append(negatives, c.WalletAddress)
		}
	}
	sort.Strings(heldOut)
	sort.Strings(training)
	sort.Strings(negatives)

	labeled := make([]string, 0, len(confirmed)+len(negatives))
	for _, c := range confirmed {
		labeled = append(labeled, c.WalletAddress)
	}
	labeled = append(labeled, negatives...)
	scores, err := l.Repo.ListTradeScoresByWallets(ctx, labeled, &asOf)
	if err != nil {
		return nil, fmt.Errorf("list labeled scores: %w", err)
	}
	points := map[string][]point{}
	for _, sc := range scores {
		points[sc.WalletAddress] = append(points[sc.WalletAddress], point{anomaly: sc.AnomalyScore, ensemble: sc.EnsembleScore})
	}

	report := &Report{
		RunID:                uuid.NewString(),
		AsOf:                 asOf,
		AnomalyThreshold:     current.AnomalyThreshold,
		ProbabilityThreshold: current.ProbabilityThreshold,
		ConfirmedInsiders:    len(confirmed),
		FalseNegatives:       []FalseNegative{},
		FalseNegByCause:      map[string]int{},
	}

	var missed []string
	for _, c := range confirmed {
		if detected(points[c.WalletAddress], current.AnomalyThreshold, current.ProbabilityThreshold) {
			report.Detected++
		} else {
			missed = append(missed, c.WalletAddress)
		}
	}
	if report.ConfirmedInsiders > 0 {
		report.DetectionRate = float64(report.Detected) / float64(report.ConfirmedInsiders)
	}
	if err := l.classify(ctx, report, missed, points, current, asOf); err != nil {
		return nil, err
	}

	report.HeldOut = evaluate(heldOut, negatives, points, current.AnomalyThreshold, current.ProbabilityThreshold)

	tuningPos, onHeldOut := training, false
	if len(tuningPos) == 0 {
		tuningPos, onHeldOut = heldOut, true
	}
	if len(tuningPos) > 0 {
		rec := l.search(tuningPos, negatives, points)
		rec.TunedOnHeldOut = onHeldOut
		rec.TuningPositives = tuningPos
		rec.TuningNegatives = len(negatives)
		report.Recommendation = &rec
	}

	report.Patterns, err = l.patternStats(ctx, positive, asOf)
	if err != nil {
		return nil, err
	}

	report.Fingerprint, err = Fingerprint(*report)
	if err != nil {
		return nil, err
	}
	if err := l.persist(ctx, report); err != nil {
		return nil, err
	}

	metrics.FeedbackF1.Set(report.HeldOut.F1)
	metrics.FeedbackDetectionRate.Set(report.DetectionRate)
	if l.Logger != nil {
		fields := []zap.Field{
			zap.String("run_id", report.RunID),
			zap.Time("as_of", asOf),
			zap.Int("confirmed", report.ConfirmedInsiders),
			zap.Float64("detection_rate", report.DetectionRate),
			zap.Float64("f1", report.HeldOut.F1),
		}
		if report.Recommendation != nil {
			fields = append(fields,
				zap.Float64("recommended_anomaly", report.Recommendation.AnomalyThreshold),
				zap.Float64("recommended_probability", report.Recommendation.ProbabilityThreshold),
				zap.Bool("tuned_on_held_out", report.Recommendation.TunedOnHeldOut),
			)
		}
		l.Logger.Info("feedback run complete", fields...)
	}
	return report, nil
}

func (l *Loop) classify(ctx context.Context, report *Report, missed []string, points map[string][]point, current settings.Thresholds, asOf time.Time) error {
	if len(missed) == 0 {
		return nil
	}
	trades, err := l.Repo.CountTradesByWallets(ctx, missed, &asOf)
	if err != nil {
		return fmt.Errorf("count trades: %w", err)
	}
	for _, wallet := range missed {
		reason := ReasonLowProbability
		switch pts := points[wallet]; {
		case trades[wallet] == 0:
			reason = ReasonNoTradeData
		case len(pts) == 0:
			reason = ReasonTradeNotScored
		default:
			best := math.Inf(-1)
			for _, p := range pts {
				best = math.Max(best, p.anomaly)
			}
			if best < current.AnomalyThreshold {
				reason = ReasonLowAnomaly
			}
		}
		report.FalseNegatives = append(report.FalseNegatives, FalseNegative{WalletAddress: wallet, Reason: reason})
		report.FalseNegByCause[reason]++
	}
	return nil
}

func evaluate(positives, negatives []string, points map[string][]point, anomaly, probability float64) Evaluation {
	ev := Evaluation{Positives: len(positives), Negatives: len(negatives)}
	for _, w := range positives {
		if detected(points[w], anomaly, probability) {
			ev.TruePositives++
		} else {
			ev.FalseNegatives++
		}
	}
	for _, w := range negatives {
		if detected(points[w], anomaly, probability) {
			ev.FalsePositives++
		} else {
			ev.TrueNegatives++
		}
	}
	if d := ev.TruePositives + ev.FalsePositives; d > 0 {
		ev.Precision = float64(ev.TruePositives) / float64(d)
	}
	if d := ev.TruePositives + ev.FalseNegatives; d > 0 {
		ev.Recall = float64(ev.TruePositives) / float64(d)
	}
	if ev.Precision+ev.Recall > 0 {
		ev.F1 = 2 * ev.Precision * ev.Recall / (ev.Precision + ev.Recall)
	}
	return ev
}

// Grid returns the candidate threshold values, rounded to avoid float drift.
func Grid(lo, hi, step float64) []float64 {
	if !(step > 0) || hi < lo {
		return []float64{lo}
	}
	var out []float64
	for i := 0; ; i++ {
		v := math.Round((lo+float64(i)*step)*1e9) / 1e9
		if v > hi+1e-9 {
			break
		}
		out = append(out, v)
	}
	return out
}

// search picks the threshold pair with the best F1. Pairs are visited in
// ascending order and only a strictly better F1 replaces the incumbent, so
// ties resolve to the lower pair.
func (l *Loop) search(positives, negatives []string, points map[string][]point) Recommendation {
	grid := Grid(l.Config.GridMin, l.Config.GridMax, l.Config.GridStep)
	best := Recommendation{AnomalyThreshold: grid[0], ProbabilityThreshold: grid[0], F1: -1}
	for _, a := range grid {
		for _, p := range grid {
			f1 := evaluate(positives, negatives, points, a, p).F1
			if f1 > best.F1 {
				best.AnomalyThreshold, best.ProbabilityThreshold, best.F1 = a, p, f1
			}
		}
	}
	return best
}

// patternStats recomputes every pattern's match and confirmed counts from the
// stored trade scores and overwrites the stored statistics.
func (l *Loop) patternStats(ctx context.Context, positive map[string]bool, asOf time.Time) ([]PatternStat, error) {
	rows, err := l.Repo.ListInsiderPatterns(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	stats := make(map[string]*PatternStat, len(rows))
	for _, row := range rows {
		stats[row.Name] = &PatternStat{Name: row.Name}
	}
	err = l.Repo.EachTradeScore(ctx, &asOf, scanBatchSize, func(batch []models.TradeScore) error {
		for _, sc := range batch {
			var names []string
			if len(sc.MatchedPatterns) > 0 {
				if err := json.Unmarshal(sc.MatchedPatterns, &names); err != nil {
					continue
				}
			}
			for _, name := range names {
				st := stats[name]
				if st == nil {
					continue
				}
				st.MatchCount++
				if positive[sc.WalletAddress] {
					st.ConfirmedCount++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan trade scores: %w", err)
	}

	out := make([]PatternStat, 0, len(rows))
	for _, row := range rows {
		st := stats[row.Name]
		if st.MatchCount > 0 {
			v := float64(st.ConfirmedCount) / float64(st.MatchCount)
			st.Precision = &v
		}
		if err := l.Repo.UpdateInsiderPatternStats(ctx, st.Name, repository.PatternStats{
			MatchCount:     st.MatchCount,
			ConfirmedCount: st.ConfirmedCount,
			Precision:      st.Precision,
			AsOf:           asOf,
		}); err != nil {
			return nil, fmt.Errorf("update pattern %s: %w", st.Name, err)
		}
		out = append(out, *st)
	}
	return out, nil
}

// Fingerprint is the SHA-256 of the report's canonical JSON with RunID and
// Fingerprint blanked.
func Fingerprint(r Report) (string, error) {
	r.RunID = ""
	r.Fingerprint = ""
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func (l *Loop) persist(ctx context.Context, report *Report) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return err
	}
	run := &models.FeedbackRun{
		RunID:                report.RunID,
		AsOf:                 report.AsOf,
		DetectionRate:        report.DetectionRate,
		Precision:            report.HeldOut.Precision,
		Recall:               report.HeldOut.Recall,
		F1:                   report.HeldOut.F1,
		AnomalyThreshold:     report.AnomalyThreshold,
		ProbabilityThreshold: report.ProbabilityThreshold,
		Report:               datatypes.JSON(raw),
		Fingerprint:          report.Fingerprint,
	}
	if rec := report.Recommendation; rec != nil {
		run.AnomalyThreshold = rec.AnomalyThreshold
		run.ProbabilityThreshold = rec.ProbabilityThreshold
		run.TuningF1 = rec.F1
		run.TunedOnHeldOut = rec.TunedOnHeldOut
	}
	if err := l.Repo.CreateFeedbackRun(ctx, run); err != nil {
		return fmt.Errorf("persist feedback run: %w", err)
	}
	return nil
}

// DecodeReport reads the report stored with a feedback run.
func DecodeReport(run models.FeedbackRun) (*Report, error) {
	var r Report
	if err := json.Unmarshal(run.Report, &r); err != nil {
		return nil, fmt.Errorf("decode feedback run %s: %w", run.RunID, err)
	}
	return &r, nil
}

// Apply installs the report's recommended thresholds and moves its tuning
// positives into the training set. The alert floor follows the recommended
// probability threshold so alerting uses exactly the tuned rule.
func (l *Loop) Apply(ctx context.Context, report *Report) (settings.Thresholds, error) {
	if l == nil || l.Repo == nil || l.Settings == nil {
		return settings.Thresholds{}, errors.New("feedback: repository unavailable")
	}
	if report == nil || report.Recommendation == nil {
		return settings.Thresholds{}, ErrNoRecommendation
	}
	rec := report.Recommendation
	next := l.Settings.Thresholds(ctx)
	next.AnomalyThreshold = rec.AnomalyThreshold
	next.ProbabilityThreshold = rec.ProbabilityThreshold
	next.AlertThreshold = rec.ProbabilityThreshold
	next.Source = "feedback:" + report.RunID

	if err := l.Settings.SetThresholds(ctx, next, fmt.Sprintf("feedback run %s (f1 %.3f)", report.RunID, rec.F1)); err != nil {
		return settings.Thresholds{}, err
	}
	if err := l.Repo.MarkConfirmedInsidersForTraining(ctx, rec.TuningPositives); err != nil {
		return settings.Thresholds{}, fmt.Errorf("mark training: %w", err)
	}
	if err := l.Repo.MarkFeedbackRunApplied(ctx, report.RunID); err != nil && !errors.Is(err, repository.ErrStaleState) {
		return settings.Thresholds{}, err
	}
	if l.Logger != nil {
		l.Logger.Info("feedback thresholds applied",
			zap.String("run_id", report.RunID),
			zap.Float64("anomaly_threshold", next.AnomalyThreshold),
			zap.Float64("probability_threshold", next.ProbabilityThreshold),
			zap.Int("training_positives", len(rec.TuningPositives)),
		)
	}
	return next, nil
}

// ApplyRun loads a stored run by id and applies it once.
func (l *Loop) ApplyRun(ctx context.Context, runID string) (settings.Thresholds, error) {
	if l == nil || l.Repo == nil {
		return settings.Thresholds{}, errors.New("feedback: repository unavailable")
	}
	run, err := l.Repo.GetFeedbackRun(ctx, runID)
	if err != nil {
		return settings.Thresholds{}, err
	}
	if run == nil {
		return settings.Thresholds{}, ErrRunNotFound
	}
	if run.Applied {
		return settings.Thresholds{}, ErrAlreadyApplied
	}
	report, err := DecodeReport(*run)
	if err != nil {
		return settings.Thresholds{}, err
	}
	return l.Apply(ctx, report)
}
