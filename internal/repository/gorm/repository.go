package gormrepository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"insiderwatch/internal/models"
	"insiderwatch/internal/repository"
)

var errNoDB = errors.New("repository: database unavailable")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(repository.Repository) error) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Trades and wallets.

func (s *Store) CreateTrades(ctx context.Context, items []models.Trade) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return createInBatches(s.db.WithContext(ctx), items, 200)
}

func (s *Store) SetTradeOutcome(ctx context.Context, tradeID uint64, wasCorrect bool) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	res := s.db.WithContext(ctx).Model(&models.Trade{}).Where("id = ?", tradeID).Update("was_correct", wasCorrect)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrStaleState
	}
	return nil
}

func (s *Store) GetTrade(ctx context.Context, id uint64) (*models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Trade
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) tradeQuery(ctx context.Context, params repository.ListTradesParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Trade{})
	if params.AfterID > 0 {
		query = query.Where("trades.id > ?", params.AfterID)
	}
	if params.MaxID != nil {
		query = query.Where("trades.id <= ?", *params.MaxID)
	}
	if params.MarketID != nil && strings.TrimSpace(*params.MarketID) != "" {
		query = query.Where("trades.market_id = ?", strings.TrimSpace(*params.MarketID))
	}
	if params.UnscoredOnly {
		query = query.Where("NOT EXISTS (SELECT 1 FROM trade_scores ts WHERE ts.trade_id = trades.id)")
	}
	return query
}

func (s *Store) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 500
	}
	if limit > 5000 {
		limit = 5000
	}
	var items []models.Trade
	if err := s.tradeQuery(ctx, params).Order("trades.id asc").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) TradeIDRange(ctx context.Context, params repository.ListTradesParams) (repository.TradeIDRange, error) {
	if s == nil || s.db == nil {
		return repository.TradeIDRange{}, nil
	}
	var row struct {
		MinID int64
		MaxID int64
		Count int64
	}
	err := s.tradeQuery(ctx, params).
		Select("COALESCE(MIN(trades.id), 0) AS min_id, COALESCE(MAX(trades.id), 0) AS max_id, COUNT(*) AS count").
		Scan(&row).Error
	if err != nil {
		return repository.TradeIDRange{}, err
	}
	return repository.TradeIDRange{MinID: uint64(row.MinID), MaxID: uint64(row.MaxID), Count: row.Count}, nil
}

func (s *Store) CountTradesByWallets(ctx context.Context, wallets []string, before *time.Time) (map[string]int64, error) {
	out := map[string]int64{}
	wallets = cleanStrings(wallets)
	if s == nil || s.db == nil || len(wallets) == 0 {
		return out, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Trade{}).Where("wallet_address IN ?", wallets)
	if before != nil {
		query = query.Where("created_at <= ?", before.UTC())
	}
	var rows []struct {
		WalletAddress string
		N             int64
	}
	if err := query.Select("wallet_address, COUNT(*) AS n").Group("wallet_address").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.WalletAddress] = r.N
	}
	return out, nil
}

func (s *Store) UpsertWallets(ctx context.Context, items []models.Wallet) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"first_seen_at",
			"trade_count",
			"volume",
			"win_rate",
			"market_count",
			"updated_at",
		}),
	}).CreateInBatches(items, 200).Error
}

func (s *Store) ListWalletsByAddress(ctx context.Context, addresses []string) ([]models.Wallet, error) {
	addresses = cleanStrings(addresses)
	if s == nil || s.db == nil || len(addresses) == 0 {
		return nil, nil
	}
	var items []models.Wallet
	if err := s.db.WithContext(ctx).Where("address IN ?", addresses).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertBaselines(ctx context.Context, items []models.Baseline) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scope"}, {Name: "axis"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"mean",
			"std",
			"samples",
			"updated_at",
		}),
	}).Create(&items).Error
}

func (s *Store) ListBaselinesByScope(ctx context.Context, scope string) ([]models.Baseline, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Baseline
	if err := s.db.WithContext(ctx).Where("scope = ?", scope).Order("axis asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Scores.

func (s *Store) UpsertTradeScores(ctx context.Context, items []models.TradeScore) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	for i := range items {
		if items[i].FirstScoredAt.IsZero() {
			items[i].FirstScoredAt = items[i].ScoredAt
		}
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trade_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"wallet_address",
			"market_id",
			"size_z",
			"timing_z",
			"wallet_age_z",
			"wallet_activity_z",
			"price_extremity_z",
			"position_concentration_z",
			"funding_proximity_z",
			"anomaly_score",
			"ml_anomaly_score",
			"ml_confidence",
			"ml_outlier",
			"highest_pattern_score",
			"matched_patterns",
			"trinity_pattern",
			"ensemble_score",
			"severity",
			"was_correct",
			"data_quality",
			"batch_id",
			"scored_at",
			"updated_at",
		}),
	}).CreateInBatches(items, 200).Error
}

func (s *Store) GetTradeScoreByTradeID(ctx context.Context, tradeID uint64) (*models.TradeScore, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.TradeScore
	err := s.db.WithContext(ctx).Where("trade_id = ?", tradeID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) tradeScoreQuery(ctx context.Context, params repository.ListTradeScoresParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.TradeScore{})
	if params.WalletAddress != nil && strings.TrimSpace(*params.WalletAddress) != "" {
		query = query.Where("wallet_address = ?", strings.TrimSpace(*params.WalletAddress))
	}
	if params.MarketID != nil && strings.TrimSpace(*params.MarketID) != "" {
		query = query.Where("market_id = ?", strings.TrimSpace(*params.MarketID))
	}
	if params.Severity != nil && strings.TrimSpace(*params.Severity) != "" {
		query = query.Where("severity = ?", strings.TrimSpace(*params.Severity))
	}
	if params.MinEnsemble != nil {
		query = query.Where("ensemble_score >= ?", *params.MinEnsemble)
	}
	if params.Trinity != nil {
		query = query.Where("trinity_pattern = ?", *params.Trinity)
	}
	return query
}

func (s *Store) ListTradeScores(ctx context.Context, params repository.ListTradeScoresParams) ([]models.TradeScore, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.tradeScoreQuery(ctx, params), params.OrderBy, params.Asc, "ensemble_score")
	var items []models.TradeScore
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountTradeScores(ctx context.Context, params repository.ListTradeScoresParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.tradeScoreQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// firstScoredBefore matches rows whose first score predates t. Rows written
// before first_scored_at existed fall back to scored_at.
func firstScoredBefore(query *gorm.DB, t time.Time) *gorm.DB {
	return query.Where("COALESCE(first_scored_at, scored_at) <= ?", t.UTC())
}

func (s *Store) ListTradeScoresByWallets(ctx context.Context, wallets []string, scoredBefore *time.Time) ([]models.TradeScore, error) {
	wallets = cleanStrings(wallets)
	if s == nil || s.db == nil || len(wallets) == 0 {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Where("wallet_address IN ?", wallets)
	if scoredBefore != nil {
		query = firstScoredBefore(query, *scoredBefore)
	}
	var items []models.TradeScore
	if err := query.Order("trade_id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) EachTradeScore(ctx context.Context, scoredBefore *time.Time, batchSize int, fn func([]models.TradeScore) error) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	query := s.db.WithContext(ctx).Model(&models.TradeScore{})
	if scoredBefore != nil {
		query = firstScoredBefore(query, *scoredBefore)
	}
	var batch []models.TradeScore
	return query.FindInBatches(&batch, batchSize, func(tx *gorm.DB, n int) error {
		return fn(batch)
	}).Error
}

// Patterns.

func (s *Store) CreateInsiderPatternIfMissing(ctx context.Context, item *models.InsiderPattern) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListInsiderPatterns(ctx context.Context, enabledOnly bool) ([]models.InsiderPattern, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.InsiderPattern{})
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}
	var items []models.InsiderPattern
	if err := query.Order("name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateInsiderPatternStats(ctx context.Context, name string, stats repository.PatternStats) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	asOf := stats.AsOf.UTC()
	return s.db.WithContext(ctx).Model(&models.InsiderPattern{}).
		Where("name = ?", strings.TrimSpace(name)).
		Updates(map[string]any{
			"match_count":     stats.MatchCount,
			"confirmed_count": stats.ConfirmedCount,
			"precision":       stats.Precision,
			"stats_as_of":     &asOf,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// Alerts.

func (s *Store) CreateAlertIfMissing(ctx context.Context, item *models.Alert) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_id"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) RefreshAlertScore(ctx context.Context, tradeID uint64, score float64, severity string, statuses []string) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	statuses = cleanStrings(statuses)
	if len(statuses) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("trade_id = ? AND status IN ?", tradeID, statuses).
		Updates(map[string]any{
			"ensemble_score": score,
			"severity":       severity,
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (s *Store) GetAlert(ctx context.Context, id uint64) (*models.Alert, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Alert
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) alertQuery(ctx context.Context, params repository.ListAlertsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Alert{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Severity != nil && strings.TrimSpace(*params.Severity) != "" {
		query = query.Where("severity = ?", strings.TrimSpace(*params.Severity))
	}
	if params.WalletAddress != nil && strings.TrimSpace(*params.WalletAddress) != "" {
		query = query.Where("wallet_address = ?", strings.TrimSpace(*params.WalletAddress))
	}
	return query
}

func (s *Store) ListAlerts(ctx context.Context, params repository.ListAlertsParams) ([]models.Alert, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.alertQuery(ctx, params), params.OrderBy, params.Asc, "created_at")
	var items []models.Alert
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountAlerts(ctx context.Context, params repository.ListAlertsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.alertQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) CountAlertsByWallets(ctx context.Context, wallets []string) (map[string]int64, error) {
	out := map[string]int64{}
	wallets = cleanStrings(wallets)
	if s == nil || s.db == nil || len(wallets) == 0 {
		return out, nil
	}
	var rows []struct {
		WalletAddress string
		N             int64
	}
	err := s.db.WithContext(ctx).Model(&models.Alert{}).
		Select("wallet_address, COUNT(*) AS n").
		Where("wallet_address IN ?", wallets).
		Group("wallet_address").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.WalletAddress] = r.N
	}
	return out, nil
}

func (s *Store) CompareAndSetAlertStatus(ctx context.Context, id uint64, from, to string, change repository.AlertChange) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if strings.TrimSpace(change.Note) != "" {
		updates["note"] = strings.TrimSpace(change.Note)
	}
	if strings.TrimSpace(change.UpdatedBy) != "" {
		updates["updated_by"] = strings.TrimSpace(change.UpdatedBy)
	}
	if change.CandidateID != nil {
		updates["candidate_id"] = *change.CandidateID
	}
	res := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrStaleState
	}
	return nil
}

// Candidates.

func (s *Store) CreateCandidateIfMissing(ctx context.Context, item *models.InvestigationCandidate) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	item.WalletAddress = strings.TrimSpace(item.WalletAddress)
	if item.WalletAddress == "" {
		return false, nil
	}
	if len(item.MatchedPatterns) == 0 {
		item.MatchedPatterns = datatypes.JSON("[]")
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetCandidate(ctx context.Context, id uint64) (*models.InvestigationCandidate, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.InvestigationCandidate
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetCandidateByWallet(ctx context.Context, wallet string) (*models.InvestigationCandidate, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.InvestigationCandidate
	err := s.db.WithContext(ctx).Where("wallet_address = ?", strings.TrimSpace(wallet)).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) candidateQuery(ctx context.Context, params repository.ListCandidatesParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.InvestigationCandidate{})
	if statuses := cleanStrings(params.Statuses); len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if params.Priority != nil && strings.TrimSpace(*params.Priority) != "" {
		query = query.Where("priority = ?", strings.TrimSpace(*params.Priority))
	}
	return query
}

func (s *Store) ListCandidates(ctx context.Context, params repository.ListCandidatesParams) ([]models.InvestigationCandidate, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.candidateQuery(ctx, params), params.OrderBy, params.Asc, "peak_score")
	var items []models.InvestigationCandidate
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountCandidates(ctx context.Context, params repository.ListCandidatesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.candidateQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListCandidatesByStatus(ctx context.Context, statuses []string, updatedBefore *time.Time) ([]models.InvestigationCandidate, error) {
	statuses = cleanStrings(statuses)
	if s == nil || s.db == nil || len(statuses) == 0 {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Where("status IN ?", statuses)
	if updatedBefore != nil {
		query = query.Where("updated_at <= ?", updatedBefore.UTC())
	}
	var items []models.InvestigationCandidate
	if err := query.Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CompareAndSetCandidateStatus(ctx context.Context, id uint64, from, to string, resolvedAt *time.Time) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if resolvedAt != nil {
		at := resolvedAt.UTC()
		updates["resolved_at"] = &at
	}
	res := s.db.WithContext(ctx).Model(&models.InvestigationCandidate{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrStaleState
	}
	return nil
}

func (s *Store) UpdateCandidatePriority(ctx context.Context, id uint64, update repository.CandidatePriority, statuses []string) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	patterns := update.MatchedPatterns
	if patterns == nil {
		patterns = []string{}
	}
	raw, err := json.Marshal(patterns)
	if err != nil {
		return err
	}
	query := s.db.WithContext(ctx).Model(&models.InvestigationCandidate{}).Where("id = ?", id)
	if statuses = cleanStrings(statuses); len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	return query.Updates(map[string]any{
		"priority":         update.Priority,
		"peak_score":       update.PeakScore,
		"alert_count":      update.AlertCount,
		"matched_patterns": datatypes.JSON(raw),
		"updated_at":       time.Now().UTC(),
	}).Error
}

func (s *Store) CreateCandidateNote(ctx context.Context, item *models.CandidateNote) error {
	if s == nil || s.db == nil || item == nil {
		return errNoDB
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListCandidateNotes(ctx context.Context, candidateID uint64) ([]models.CandidateNote, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.CandidateNote
	if err := s.db.WithContext(ctx).Where("candidate_id = ?", candidateID).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Ground truth.

func (s *Store) UpsertConfirmedInsider(ctx context.Context, item *models.ConfirmedInsider) error {
	if s == nil || s.db == nil || item == nil {
		return errNoDB
	}
	item.WalletAddress = strings.TrimSpace(item.WalletAddress)
	if item.WalletAddress == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "wallet_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"confidence",
			"source",
			"candidate_id",
			"evidence",
			"confirmed_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListConfirmedInsiders(ctx context.Context, confirmedBefore *time.Time) ([]models.ConfirmedInsider, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ConfirmedInsider{})
	if confirmedBefore != nil {
		query = query.Where("confirmed_at <= ?", confirmedBefore.UTC())
	}
	var items []models.ConfirmedInsider
	if err := query.Order("wallet_address asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkConfirmedInsidersForTraining(ctx context.Context, wallets []string) error {
	wallets = cleanStrings(wallets)
	if s == nil || s.db == nil || len(wallets) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.ConfirmedInsider{}).
		Where("wallet_address IN ?", wallets).
		Update("used_for_training", true).Error
}

// Feedback runs.

func (s *Store) CreateFeedbackRun(ctx context.Context, item *models.FeedbackRun) error {
	if s == nil || s.db == nil || item == nil {
		return errNoDB
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetFeedbackRun(ctx context.Context, runID string) (*models.FeedbackRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.FeedbackRun
	err := s.db.WithContext(ctx).Where("run_id = ?", strings.TrimSpace(runID)).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListFeedbackRuns(ctx context.Context, limit, offset int) ([]models.FeedbackRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.FeedbackRun
	err := s.db.WithContext(ctx).
		Order("created_at desc").Order("id desc").
		Limit(normalizeLimit(limit, 20)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkFeedbackRunApplied(ctx context.Context, runID string) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	res := s.db.WithContext(ctx).Model(&models.FeedbackRun{}).
		Where("run_id = ?", strings.TrimSpace(runID)).
		Update("applied", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrStaleState
	}
	return nil
}

// Runtime settings.

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) settingsQuery(ctx context.Context, params repository.ListSystemSettingsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	return query
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.settingsQuery(ctx, params), params.OrderBy, params.Asc, "key")
	var items []models.SystemSetting
	if err := query.Limit(normalizeLimit(params.Limit, 500)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.settingsQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction).Order("id " + direction)
}

func createInBatches[T any](db *gorm.DB, items []T, batchSize int) error {
	if len(items) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	for i := 0; i < len(items); i += batchSize {
		chunk := items[i:min(i+batchSize, len(items))]
		if err := db.CreateInBatches(&chunk, batchSize).Error; err != nil {
			return err
		}
	}
	return nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}

var _ repository.Repository = (*Store)(nil)
