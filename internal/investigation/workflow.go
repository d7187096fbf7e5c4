package investigation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"insiderwatch/internal/metrics"
	"insiderwatch/internal/models"
	"insiderwatch/internal/pattern"
	"insiderwatch/internal/repository"
	"insiderwatch/internal/settings"
)

const (
	systemActor       = "system"
	confirmedSource   = "investigation"
	entityAlert       = "alert"
	entityCandidate   = "candidate"
	maxNoteLength     = 10000
	discoverBatchSize = 1000
)

// ThresholdSource supplies the active detection thresholds.
type ThresholdSource interface {
	Thresholds(ctx context.Context) settings.Thresholds
}

// Workflow owns alert and candidate state. Every state change is a
// compare-and-set against the persisted status.
type Workflow struct {
	Repo     repository.Repository
	Settings ThresholdSource
	Logger   *zap.Logger

	// DiscoveryPrecision is the minimum pattern precision for Discover.
	DiscoveryPrecision float64
	Now                func() time.Time
}

func (w *Workflow) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *Workflow) thresholds(ctx context.Context) settings.Thresholds {
	if w.Settings == nil {
		return settings.Thresholds{}
	}
	return w.Settings.Thresholds(ctx)
}

func (w *Workflow) ready() error {
	if w == nil || w.Repo == nil {
		return errors.New("investigation: repository unavailable")
	}
	return nil
}

// ActiveThresholds returns the thresholds alerting currently runs against.
func (w *Workflow) ActiveThresholds(ctx context.Context) settings.Thresholds {
	return w.thresholds(ctx)
}

// RaiseAlerts creates one alert per score that passes the active thresholds
// and refreshes the score and severity of alerts that are still open. It
// returns the number of alerts created.
func (w *Workflow) RaiseAlerts(ctx context.Context, scores []models.TradeScore) (int, error) {
	if err := w.ready(); err != nil {
		return 0, err
	}
	created, err := RaiseAlertsIn(ctx, w.Repo, w.thresholds(ctx), scores)
	metrics.AlertsRaised.Add(float64(created))
	return created, err
}

// RaiseAlertsIn is the alert step of RaiseAlerts run against repo, which may
// be a transaction. Callers inside a transaction read the thresholds before
// opening it.
func RaiseAlertsIn(ctx context.Context, repo repository.Repository, th settings.Thresholds, scores []models.TradeScore) (int, error) {
	created := 0
	for _, sc := range scores {
		severity := Tier(sc.EnsembleScore)
		if th.Alerts(sc.AnomalyScore, sc.EnsembleScore) {
			ok, err := repo.CreateAlertIfMissing(ctx, &models.Alert{
				TradeID:       sc.TradeID,
				WalletAddress: sc.WalletAddress,
				MarketID:      sc.MarketID,
				Status:        models.AlertNew,
				Severity:      severity,
				EnsembleScore: sc.EnsembleScore,
			})
			if err != nil {
				return created, fmt.Errorf("create alert for trade %d: %w", sc.TradeID, err)
			}
			if ok {
				created++
				continue
			}
		}
		if err := repo.RefreshAlertScore(ctx, sc.TradeID, sc.EnsembleScore, severity, ActiveAlertStatuses); err != nil {
			return created, fmt.Errorf("refresh alert for trade %d: %w", sc.TradeID, err)
		}
	}
	return created, nil
}

// TransitionAlert moves an alert to the given status.
func (w *Workflow) TransitionAlert(ctx context.Context, id uint64, to, actor, note string) (*models.Alert, error) {
	if err := w.ready(); err != nil {
		return nil, err
	}
	to = strings.TrimSpace(to)
	alert, err := w.Repo.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	if !CanTransitionAlert(alert.Status, to) {
		metrics.Transitions.WithLabelValues(entityAlert, to, "invalid").Inc()
		return alert, fmt.Errorf("alert %d %s -> %s: %w", id, alert.Status, to, ErrInvalidTransition)
	}
	err = w.Repo.CompareAndSetAlertStatus(ctx, id, alert.Status, to, repository.AlertChange{
		Note:      note,
		UpdatedBy: actorOr(actor),
	})
	if errors.Is(err, repository.ErrStaleState) {
		metrics.Transitions.WithLabelValues(entityAlert, to, "conflict").Inc()
		return nil, fmt.Errorf("alert %d: %w", id, ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	metrics.Transitions.WithLabelValues(entityAlert, to, "ok").Inc()
	if w.Logger != nil {
		w.Logger.Info("alert transitioned",
			zap.Uint64("alert_id", id),
			zap.String("from", alert.Status),
			zap.String("to", to),
			zap.String("actor", actorOr(actor)),
		)
	}
	return w.Repo.GetAlert(ctx, id)
}

// Promote opens the case file for the alert's wallet and moves the alert to
// investigating. A wallet has at most one candidate ever; promoting a second
// alert of the same wallet returns the existing candidate with
// ErrCandidateExists.
func (w *Workflow) Promote(ctx context.Context, alertID uint64, actor string) (*models.InvestigationCandidate, error) {
	if err := w.ready(); err != nil {
		return nil, err
	}
	actor = actorOr(actor)
	var out *models.InvestigationCandidate
	err := w.Repo.InTx(ctx, func(tx repository.Repository) error {
		alert, err := tx.GetAlert(ctx, alertID)
		if err != nil {
			return err
		}
		if alert == nil {
			return fmt.Errorf("alert %d: %w", alertID, ErrNotFound)
		}
		existing, err := tx.GetCandidateByWallet(ctx, alert.WalletAddress)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return candidateExists(alert.WalletAddress, existing)
		}
		if !CanTransitionAlert(alert.Status, models.AlertInvestigating) {
			return fmt.Errorf("alert %d %s -> %s: %w", alertID, alert.Status, models.AlertInvestigating, ErrInvalidTransition)
		}

		var matched []string
		if sc, err := tx.GetTradeScoreByTradeID(ctx, alert.TradeID); err != nil {
			return err
		} else if sc != nil {
			matched = decodeNames(sc.MatchedPatterns)
		}
		counts, err := tx.CountAlertsByWallets(ctx, []string{alert.WalletAddress})
		if err != nil {
			return err
		}
		marketID := alert.MarketID
		sourceID := alert.ID
		cand := &models.InvestigationCandidate{
			WalletAddress:   alert.WalletAddress,
			MarketID:        &marketID,
			Status:          models.CandidatePendingReview,
			Priority:        Tier(alert.EnsembleScore),
			PeakScore:       alert.EnsembleScore,
			AlertCount:      int(counts[alert.WalletAddress]),
			MatchedPatterns: encodeNames(matched),
			SourceAlertID:   &sourceID,
		}
		created, err := tx.CreateCandidateIfMissing(ctx, cand)
		if err != nil {
			return err
		}
		if !created {
			if existing, err = tx.GetCandidateByWallet(ctx, alert.WalletAddress); err != nil {
				return err
			}
			out = existing
			return candidateExists(alert.WalletAddress, existing)
		}
		err = tx.CompareAndSetAlertStatus(ctx, alert.ID, alert.Status, models.AlertInvestigating, repository.AlertChange{
			UpdatedBy:   actor,
			CandidateID: &cand.ID,
		})
		if errors.Is(err, repository.ErrStaleState) {
			return fmt.Errorf("alert %d: %w", alertID, ErrConflict)
		}
		if err != nil {
			return err
		}
		if err := tx.CreateCandidateNote(ctx, &models.CandidateNote{
			CandidateID: cand.ID,
			Author:      actor,
			Kind:        models.NoteKindPromotion,
			ToStatus:    models.CandidatePendingReview,
			Body:        fmt.Sprintf("promoted from alert %d (trade %d, score %.3f)", alert.ID, alert.TradeID, alert.EnsembleScore),
		}); err != nil {
			return err
		}
		out = cand
		return nil
	})
	switch {
	case errors.Is(err, ErrCandidateExists):
		metrics.Transitions.WithLabelValues(entityCandidate, models.CandidatePendingReview, "exists").Inc()
		return out, err
	case err != nil:
		metrics.Transitions.WithLabelValues(entityCandidate, models.CandidatePendingReview, "error").Inc()
		return nil, err
	}
	metrics.Transitions.WithLabelValues(entityCandidate, models.CandidatePendingReview, "ok").Inc()
	if w.Logger != nil {
		w.Logger.Info("alert promoted",
			zap.Uint64("alert_id", alertID),
			zap.Uint64("candidate_id", out.ID),
			zap.String("wallet", out.WalletAddress),
			zap.String("actor", actor),
		)
	}
	return w.Repo.GetCandidate(ctx, out.ID)
}

// TransitionCandidate moves a candidate to the given status and records the
// change in its audit trail. Reaching confirmed_insider or likely_insider
// records the wallet as ground truth; any terminal status closes the wallet's
// open investigating alerts.
func (w *Workflow) TransitionCandidate(ctx context.Context, id uint64, to, actor, note string) (*models.InvestigationCandidate, error) {
	if err := w.ready(); err != nil {
		return nil, err
	}
	to = strings.TrimSpace(to)
	actor = actorOr(actor)
	note = strings.TrimSpace(note)
	if len(note) > maxNoteLength {
		return nil, fmt.Errorf("note longer than %d bytes: %w", maxNoteLength, ErrInvalidInput)
	}
	now := w.now()
	var from string
	err := w.Repo.InTx(ctx, func(tx repository.Repository) error {
		cand, err := tx.GetCandidate(ctx, id)
		if err != nil {
			return err
		}
		if cand == nil {
			return fmt.Errorf("candidate %d: %w", id, ErrNotFound)
		}
		from = cand.Status
		if !CanTransitionCandidate(from, to) {
			return fmt.Errorf("candidate %d %s -> %s: %w", id, from, to, ErrInvalidTransition)
		}
		var resolvedAt *time.Time
		if CandidateTerminal(to) {
			resolvedAt = &now
		}
		err = tx.CompareAndSetCandidateStatus(ctx, id, from, to, resolvedAt)
		if errors.Is(err, repository.ErrStaleState) {
			return fmt.Errorf("candidate %d: %w", id, ErrConflict)
		}
		if err != nil {
			return err
		}
		if err := tx.CreateCandidateNote(ctx, &models.CandidateNote{
			CandidateID: id,
			Author:      actor,
			Kind:        models.NoteKindTransition,
			FromStatus:  from,
			ToStatus:    to,
			Body:        note,
		}); err != nil {
			return err
		}
		if confidence := confidenceFor(to); confidence != "" {
			candID := id
			if err := tx.UpsertConfirmedInsider(ctx, &models.ConfirmedInsider{
				WalletAddress: cand.WalletAddress,
				Confidence:    confidence,
				Source:        confirmedSource,
				CandidateID:   &candID,
				Evidence:      note,
				ConfirmedAt:   now,
			}); err != nil {
				return err
			}
		}
		if CandidateTerminal(to) {
			return closeAlerts(ctx, tx, cand.WalletAddress, to, actor)
		}
		return nil
	})
	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, ErrInvalidTransition):
			result = "invalid"
		case errors.Is(err, ErrConflict):
			result = "conflict"
		case errors.Is(err, ErrNotFound):
			result = "not_found"
		}
		metrics.Transitions.WithLabelValues(entityCandidate, to, result).Inc()
		return nil, err
	}
	metrics.Transitions.WithLabelValues(entityCandidate, to, "ok").Inc()
	if w.Logger != nil {
		w.Logger.Info("candidate transitioned",
			zap.Uint64("candidate_id", id),
			zap.String("from", from),
			zap.String("to", to),
			zap.String("actor", actor),
		)
	}
	return w.Repo.GetCandidate(ctx, id)
}

func candidateExists(wallet string, existing *models.InvestigationCandidate) error {
	if existing == nil {
		return fmt.Errorf("wallet %s: %w", wallet, ErrCandidateExists)
	}
	if CandidateTerminal(existing.Status) {
		return fmt.Errorf("wallet %s: candidate %d is %s (terminal, cannot be reopened): %w",
			wallet, existing.ID, existing.Status, ErrCandidateExists)
	}
	return fmt.Errorf("wallet %s: candidate %d is %s: %w", wallet, existing.ID, existing.Status, ErrCandidateExists)
}

func closeAlerts(ctx context.Context, tx repository.Repository, wallet, candidateStatus, actor string) error {
	status := models.AlertInvestigating
	alerts, err := tx.ListAlerts(ctx, repository.ListAlertsParams{
		Limit:         500,
		Status:        &status,
		WalletAddress: &wallet,
	})
	if err != nil {
		return err
	}
	to := models.AlertResolved
	if candidateStatus == models.CandidateDismissed {
		to = models.AlertDismissed
	}
	for _, a := range alerts {
		err := tx.CompareAndSetAlertStatus(ctx, a.ID, a.Status, to, repository.AlertChange{
			Note:      "candidate " + candidateStatus,
			UpdatedBy: actor,
		})
		if err != nil && !errors.Is(err, repository.ErrStaleState) {
			return err
		}
	}
	return nil
}

func confidenceFor(status string) string {
	switch status {
	case models.CandidateConfirmedInsider:
		return models.ConfidenceConfirmed
	case models.CandidateLikelyInsider:
		return models.ConfidenceLikely
	}
	return ""
}

// AddNote appends a free-form note. Notes are accepted in every state,
// terminal ones included, and never change the candidate.
func (w *Workflow) AddNote(ctx context.Context, candidateID uint64, author, body string) (*models.CandidateNote, error) {
	if err := w.ready(); err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("empty note: %w", ErrInvalidInput)
	}
	if len(body) > maxNoteLength {
		return nil, fmt.Errorf("note longer than %d bytes: %w", maxNoteLength, ErrInvalidInput)
	}
	cand, err := w.Repo.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if cand == nil {
		return nil, fmt.Errorf("candidate %d: %w", candidateID, ErrNotFound)
	}
	item := &models.CandidateNote{
		CandidateID: candidateID,
		Author:      actorOr(author),
		Kind:        models.NoteKindNote,
		Body:        body,
	}
	if err := w.Repo.CreateCandidateNote(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// RefreshPriorities recomputes tier, peak score, alert count and matched
// patterns of open candidates from their wallets' trade scores. With no
// wallets given every open candidate is refreshed. Terminal candidates are
// never touched.
func (w *Workflow) RefreshPriorities(ctx context.Context, wallets []string) (int, error) {
	if err := w.ready(); err != nil {
		return 0, err
	}
	cands, err := w.Repo.ListCandidatesByStatus(ctx, ActiveCandidateStatuses, nil)
	if err != nil {
		return 0, err
	}
	if len(wallets) > 0 {
		want := make(map[string]struct{}, len(wallets))
		for _, wlt := range wallets {
			want[strings.TrimSpace(wlt)] = struct{}{}
		}
		filtered := cands[:0]
		for _, c := range cands {
			if _, ok := want[c.WalletAddress]; ok {
				filtered = append(filtered, c)
			}
		}
		cands = filtered
	}
	if len(cands) == 0 {
		return 0, nil
	}

	addresses := make([]string, 0, len(cands))
	for _, c := range cands {
		addresses = append(addresses, c.WalletAddress)
	}
	scores, err := w.Repo.ListTradeScoresByWallets(ctx, addresses, nil)
	if err != nil {
		return 0, err
	}
	alertCounts, err := w.Repo.CountAlertsByWallets(ctx, addresses)
	if err != nil {
		return 0, err
	}
	type agg struct {
		peak     float64
		patterns map[string]struct{}
	}
	byWallet := map[string]*agg{}
	for _, sc := range scores {
		a := byWallet[sc.WalletAddress]
		if a == nil {
			a = &agg{patterns: map[string]struct{}{}}
			byWallet[sc.WalletAddress] = a
		}
		if sc.EnsembleScore > a.peak {
			a.peak = sc.EnsembleScore
		}
		for _, name := range decodeNames(sc.MatchedPatterns) {
			a.patterns[name] = struct{}{}
		}
	}

	updated := 0
	for _, c := range cands {
		update := repository.CandidatePriority{
			Priority:        c.Priority,
			PeakScore:       c.PeakScore,
			AlertCount:      int(alertCounts[c.WalletAddress]),
			MatchedPatterns: decodeNames(c.MatchedPatterns),
		}
		if a := byWallet[c.WalletAddress]; a != nil {
			update.PeakScore = a.peak
			update.MatchedPatterns = sortedKeys(a.patterns)
		}
		update.Priority = Tier(update.PeakScore)
		if err := w.Repo.UpdateCandidatePriority(ctx, c.ID, update, ActiveCandidateStatuses); err != nil {
			return updated, fmt.Errorf("refresh candidate %d: %w", c.ID, err)
		}
		updated++
	}
	return updated, nil
}

// Discover opens undiscovered candidates for wallets whose scored trades
// matched a reliable pattern but never raised an alert. Patterns count as
// reliable with at least minSamples matches and precision at or above
// DiscoveryPrecision.
func (w *Workflow) Discover(ctx context.Context, minSamples int) (int, error) {
	if err := w.ready(); err != nil {
		return 0, err
	}
	rows, err := w.Repo.ListInsiderPatterns(ctx, true)
	if err != nil {
		return 0, err
	}
	reliable := map[string]struct{}{}
	for _, row := range rows {
		if pattern.Reliable(row, minSamples) && *row.Precision >= w.DiscoveryPrecision {
			reliable[row.Name] = struct{}{}
		}
	}
	if len(reliable) == 0 {
		return 0, nil
	}

	type hit struct {
		peak     float64
		marketID string
		patterns map[string]struct{}
	}
	hits := map[string]*hit{}
	err = w.Repo.EachTradeScore(ctx, nil, discoverBatchSize, func(batch []models.TradeScore) error {
		for _, sc := range batch {
			for _, name := range decodeNames(sc.MatchedPatterns) {
				if _, ok := reliable[name]; !ok {
					continue
				}
				h := hits[sc.WalletAddress]
				if h == nil {
					h = &hit{patterns: map[string]struct{}{}}
					hits[sc.WalletAddress] = h
				}
				h.patterns[name] = struct{}{}
				if sc.EnsembleScore >= h.peak {
					h.peak = sc.EnsembleScore
					h.marketID = sc.MarketID
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(hits) == 0 {
		return 0, nil
	}

	wallets := make([]string, 0, len(hits))
	for wlt := range hits {
		wallets = append(wallets, wlt)
	}
	sort.Strings(wallets)
	alerted, err := w.Repo.CountAlertsByWallets(ctx, wallets)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, wlt := range wallets {
		if alerted[wlt] > 0 {
			continue
		}
		h := hits[wlt]
		marketID := h.marketID
		ok, err := w.Repo.CreateCandidateIfMissing(ctx, &models.InvestigationCandidate{
			WalletAddress:   wlt,
			MarketID:        &marketID,
			Status:          models.CandidateUndiscovered,
			Priority:        Tier(h.peak),
			PeakScore:       h.peak,
			MatchedPatterns: encodeNames(sortedKeys(h.patterns)),
		})
		if err != nil {
			return created, fmt.Errorf("discover wallet %s: %w", wlt, err)
		}
		if ok {
			created++
		}
	}
	if w.Logger != nil && created > 0 {
		w.Logger.Info("discovered candidates", zap.Int("created", created), zap.Int("reliable_patterns", len(reliable)))
	}
	return created, nil
}

// QueueItem is one entry of the ranked investigation queue.
type QueueItem struct {
	Candidate     models.InvestigationCandidate `json:"candidate"`
	BestPrecision *float64                      `json:"best_precision,omitempty"`
}

// Queue ranks open candidates by tier, then peak score, then the best
// precision among their reliable matched patterns.
func (w *Workflow) Queue(ctx context.Context, limit int) ([]QueueItem, error) {
	if err := w.ready(); err != nil {
		return nil, err
	}
	cands, err := w.Repo.ListCandidatesByStatus(ctx, ActiveCandidateStatuses, nil)
	if err != nil {
		return nil, err
	}
	rows, err := w.Repo.ListInsiderPatterns(ctx, false)
	if err != nil {
		return nil, err
	}
	minSamples := w.thresholds(ctx).MinPatternSamples
	precision := map[string]float64{}
	for _, row := range rows {
		if pattern.Reliable(row, minSamples) {
			precision[row.Name] = *row.Precision
		}
	}

	items := make([]QueueItem, 0, len(cands))
	for _, c := range cands {
		item := QueueItem{Candidate: c}
		for _, name := range decodeNames(c.MatchedPatterns) {
			p, ok := precision[name]
			if !ok {
				continue
			}
			if item.BestPrecision == nil || p > *item.BestPrecision {
				v := p
				item.BestPrecision = &v
			}
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if ra, rb := tierRank(a.Candidate.Priority), tierRank(b.Candidate.Priority); ra != rb {
			return ra > rb
		}
		if a.Candidate.PeakScore != b.Candidate.PeakScore {
			return a.Candidate.PeakScore > b.Candidate.PeakScore
		}
		pa, pb := -1.0, -1.0
		if a.BestPrecision != nil {
			pa = *a.BestPrecision
		}
		if b.BestPrecision != nil {
			pb = *b.BestPrecision
		}
		if pa != pb {
			return pa > pb
		}
		return a.Candidate.ID < b.Candidate.ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func actorOr(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return systemActor
	}
	return actor
}

func decodeNames(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func encodeNames(names []string) datatypes.JSON {
	if names == nil {
		names = []string{}
	}
	raw, _ := json.Marshal(names)
	return datatypes.JSON(raw)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
