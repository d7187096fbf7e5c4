package investigation

import (
	"errors"

	"insiderwatch/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrCandidateExists   = errors.New("candidate_exists")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
)

var alertTransitions = map[string][]string{
	models.AlertNew:           {models.AlertAcknowledged, models.AlertInvestigating, models.AlertDismissed},
	models.AlertAcknowledged:  {models.AlertInvestigating, models.AlertDismissed},
	models.AlertInvestigating: {models.AlertResolved, models.AlertDismissed},
}

var candidateTransitions = map[string][]string{
	models.CandidateUndiscovered:  {models.CandidatePendingReview, models.CandidateInvestigating, models.CandidateDismissed},
	models.CandidatePendingReview: {models.CandidateInvestigating, models.CandidateDismissed},
	models.CandidateInvestigating: {
		models.CandidateConfirmedInsider,
		models.CandidateLikelyInsider,
		models.CandidateFalsePositive,
		models.CandidateCleared,
		models.CandidateDismissed,
	},
}

// ActiveAlertStatuses are the alert states that still accept transitions.
var ActiveAlertStatuses = []string{models.AlertNew, models.AlertAcknowledged, models.AlertInvestigating}

// ActiveCandidateStatuses are the candidate states that still accept
// transitions.
var ActiveCandidateStatuses = []string{models.CandidateUndiscovered, models.CandidatePendingReview, models.CandidateInvestigating}

func CanTransitionAlert(from, to string) bool {
	return allowed(alertTransitions, from, to)
}

func CanTransitionCandidate(from, to string) bool {
	return allowed(candidateTransitions, from, to)
}

func AlertTerminal(status string) bool {
	return isKnownAlertStatus(status) && len(alertTransitions[status]) == 0
}

func CandidateTerminal(status string) bool {
	return isKnownCandidateStatus(status) && len(candidateTransitions[status]) == 0
}

func isKnownAlertStatus(status string) bool {
	switch status {
	case models.AlertNew, models.AlertAcknowledged, models.AlertInvestigating, models.AlertResolved, models.AlertDismissed:
		return true
	}
	return false
}

func isKnownCandidateStatus(status string) bool {
	switch status {
	case models.CandidateUndiscovered, models.CandidatePendingReview, models.CandidateInvestigating,
		models.CandidateConfirmedInsider, models.CandidateLikelyInsider, models.CandidateFalsePositive,
		models.CandidateCleared, models.CandidateDismissed:
		return true
	}
	return false
}

func allowed(table map[string][]string, from, to string) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Tier maps an ensemble score to a priority tier.
func Tier(score float64) string {
	switch {
	case score >= 0.9:
		return models.PriorityCritical
	case score >= 0.7:
		return models.PriorityHigh
	case score >= 0.5:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func tierRank(tier string) int {
	switch tier {
	case models.PriorityCritical:
		return 3
	case models.PriorityHigh:
		return 2
	case models.PriorityMedium:
		return 1
	default:
		return 0
	}
}
