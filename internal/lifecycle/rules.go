package lifecycle

import (
	"errors"
	"fmt"

	"github.com/jogardn/pharmacy-portal/pkg/models"
)

type Role string

const (
	RolePatient    Role = "patient"
	RolePharmacist Role = "pharmacist"
)

var (
	ErrForbiddenTransition = errors.New("forbidden status transition")
)

// transitions is the single authority for interactive status changes. Terminal
// statuses have no entry.
var transitions = map[Role]map[models.Status][]models.Status{
	RolePatient: {
		models.StatusPlaced: {models.StatusCancelled},
		models.StatusReady:  {models.StatusComplete},
	},
	RolePharmacist: {
		models.StatusPlaced: {models.StatusReady, models.StatusCancelled},
		models.StatusReady:  {models.StatusComplete, models.StatusCancelled},
	},
}

// AvailableTransitions returns the statuses role may move an order to from
// current. The result is a fresh slice; it is empty for terminal statuses and
// unknown roles.
func AvailableTransitions(current models.Status, role Role) []models.Status {
	allowed := transitions[role][current]
	result := make([]models.Status, len(allowed))
	copy(result, allowed)
	return result
}

func CanTransition(current, target models.Status, role Role) bool {
	for _, s := range transitions[role][current] {
		if s == target {
			return true
		}
	}
	return false
}

func IsTerminal(status models.Status) bool {
	return status == models.StatusComplete || status == models.StatusCancelled
}

// CheckTransition is CanTransition in error form for callers that propagate
// refusals. The error wraps ErrForbiddenTransition.
func CheckTransition(current, target models.Status, role Role) error {
	if !CanTransition(current, target, role) {
		return fmt.Errorf("%w: %s cannot move order from %s to %s", ErrForbiddenTransition, role, current, target)
	}
	return nil
}
