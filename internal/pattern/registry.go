package pattern

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"insiderwatch/internal/models"
	"insiderwatch/internal/repository"
)

// Registry keeps a Matcher in sync with the insider_patterns table.
type Registry struct {
	Repo    repository.Repository
	Matcher *Matcher
	Logger  *zap.Logger
}

// EnsureBuiltins inserts any missing built-in pattern. Existing rows, and the
// enabled flag an operator may have changed, are left alone.
func (r *Registry) EnsureBuiltins(ctx context.Context, trinity TrinityThresholds) error {
	if r == nil || r.Repo == nil {
		return nil
	}
	for _, p := range Builtins(trinity) {
		row, err := ToModel(p)
		if err != nil {
			return err
		}
		row.Builtin = true
		row.Enabled = true
		created, err := r.Repo.CreateInsiderPatternIfMissing(ctx, &row)
		if err != nil {
			return fmt.Errorf("seed pattern %s: %w", p.Name, err)
		}
		if created && r.Logger != nil {
			r.Logger.Info("seeded insider pattern", zap.String("pattern", p.Name))
		}
	}
	return nil
}

// Reload swaps the matcher's pattern set for the enabled rows in the database.
// Rows with unreadable predicates are skipped.
func (r *Registry) Reload(ctx context.Context, trinity TrinityThresholds) error {
	if r == nil || r.Repo == nil || r.Matcher == nil {
		return nil
	}
	rows, err := r.Repo.ListInsiderPatterns(ctx, true)
	if err != nil {
		return err
	}
	patterns := make([]Pattern, 0, len(rows))
	for _, row := range rows {
		p, err := FromModel(row)
		if err != nil {
			if r.Logger != nil {
				r.Logger.Warn("skip insider pattern", zap.String("pattern", row.Name), zap.Error(err))
			}
			continue
		}
		patterns = append(patterns, p)
	}
	r.Matcher.Replace(trinity, patterns)
	return nil
}

func ToModel(p Pattern) (models.InsiderPattern, error) {
	raw, err := json.Marshal(p.Predicates)
	if err != nil {
		return models.InsiderPattern{}, err
	}
	return models.InsiderPattern{
		Name:        p.Name,
		Description: p.Description,
		Predicates:  datatypes.JSON(raw),
	}, nil
}

func FromModel(row models.InsiderPattern) (Pattern, error) {
	var preds []Predicate
	if err := json.Unmarshal(row.Predicates, &preds); err != nil {
		return Pattern{}, fmt.Errorf("decode predicates: %w", err)
	}
	for _, pred := range preds {
		if !pred.Axis.Valid() {
			return Pattern{}, fmt.Errorf("unknown axis %q", pred.Axis)
		}
		if !(pred.MinAbs > 0) {
			return Pattern{}, fmt.Errorf("non-positive threshold on %s", pred.Axis)
		}
	}
	if len(preds) == 0 {
		return Pattern{}, fmt.Errorf("no predicates")
	}
	return Pattern{Name: row.Name, Description: row.Description, Predicates: preds}, nil
}

// Reliable reports whether a pattern's precision rests on enough matches to
// be used for ranking and discovery.
func Reliable(row models.InsiderPattern, minSamples int) bool {
	return row.Precision != nil && row.MatchCount > 0 && row.MatchCount >= int64(minSamples)
}
