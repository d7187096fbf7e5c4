package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"insiderwatch/internal/config"
	"insiderwatch/internal/models"
	"insiderwatch/internal/pattern"
	"insiderwatch/internal/repository"
)

const KeyThresholds = "detection.thresholds"

// Thresholds are the detection cut-offs that the feedback loop may retune at
// runtime. They override the file configuration once stored.
type Thresholds struct {
	AnomalyThreshold     float64                   `json:"anomaly_threshold"`
	ProbabilityThreshold float64                   `json:"probability_threshold"`
	AlertThreshold       float64                   `json:"alert_threshold"`
	MinPatternSamples    int                       `json:"min_pattern_samples"`
	Trinity              pattern.TrinityThresholds `json:"trinity"`
	Source               string                    `json:"source"`
}

// Alerts reports whether a trade with the given anomaly and ensemble scores
// raises an alert. It is the same rule the feedback loop tunes, with
// AlertThreshold as an extra floor on the ensemble score.
func (t Thresholds) Alerts(anomaly, ensemble float64) bool {
	return anomaly >= t.AnomalyThreshold &&
		ensemble >= t.ProbabilityThreshold &&
		ensemble >= t.AlertThreshold
}

func (t Thresholds) Validate() error {
	in := func(v float64) bool { return v >= 0 && v <= 1 }
	switch {
	case !in(t.AnomalyThreshold):
		return fmt.Errorf("anomaly_threshold %v outside [0,1]", t.AnomalyThreshold)
	case !in(t.ProbabilityThreshold):
		return fmt.Errorf("probability_threshold %v outside [0,1]", t.ProbabilityThreshold)
	case !in(t.AlertThreshold):
		return fmt.Errorf("alert_threshold %v outside [0,1]", t.AlertThreshold)
	case t.MinPatternSamples < 0:
		return errors.New("min_pattern_samples must not be negative")
	case !(t.Trinity.Size > 0 && t.Trinity.Timing > 0 && t.Trinity.WalletAge > 0):
		return errors.New("trinity thresholds must be positive")
	}
	return nil
}

func DefaultsFromConfig(cfg config.Config) Thresholds {
	return Thresholds{
		AnomalyThreshold:     cfg.Feedback.AnomalyThreshold,
		ProbabilityThreshold: cfg.Feedback.ProbabilityThreshold,
		AlertThreshold:       cfg.Investigation.AlertThreshold,
		MinPatternSamples:    cfg.Patterns.MinSamples,
		Trinity: pattern.TrinityThresholds{
			Size:      cfg.Patterns.TrinitySize,
			Timing:    cfg.Patterns.TrinityTiming,
			WalletAge: cfg.Patterns.TrinityWalletAge,
		},
		Source: "config",
	}
}

type Service struct {
	Repo     repository.Repository
	Defaults Thresholds
}

// EnsureDefaults stores the configured thresholds unless a value exists.
func (s *Service) EnsureDefaults(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	existing, err := s.Repo.GetSystemSettingByKey(ctx, KeyThresholds)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return s.put(ctx, s.Defaults, "detection thresholds (config defaults)")
}

// Thresholds returns the stored thresholds, or the defaults when the stored
// value is missing or invalid.
func (s *Service) Thresholds(ctx context.Context) Thresholds {
	if s == nil {
		return Thresholds{}
	}
	if s.Repo == nil {
		return s.Defaults
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, KeyThresholds)
	if err != nil || item == nil || len(item.Value) == 0 {
		return s.Defaults
	}
	var t Thresholds
	if err := json.Unmarshal(item.Value, &t); err != nil || t.Validate() != nil {
		return s.Defaults
	}
	return t
}

func (s *Service) SetThresholds(ctx context.Context, t Thresholds, description string) error {
	if s == nil || s.Repo == nil {
		return errors.New("settings: repository unavailable")
	}
	if err := t.Validate(); err != nil {
		return err
	}
	return s.put(ctx, t, description)
}

func (s *Service) put(ctx context.Context, t Thresholds, description string) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.Repo.UpsertSystemSetting(ctx, &models.SystemSetting{
		Key:         KeyThresholds,
		Value:       datatypes.JSON(raw),
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}
