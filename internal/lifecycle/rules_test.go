package lifecycle

import (
	"errors"
	"testing"

	"github.com/jogardn/pharmacy-portal/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestAvailableTransitions(t *testing.T) {
	tests := []struct {
		role     Role
		current  models.Status
		expected []models.Status
	}{
		{RolePatient, models.StatusPlaced, []models.Status{models.StatusCancelled}},
		{RolePatient, models.StatusReady, []models.Status{models.StatusComplete}},
		{RolePatient, models.StatusComplete, []models.Status{}},
		{RolePatient, models.StatusCancelled, []models.Status{}},
		{RolePharmacist, models.StatusPlaced, []models.Status{models.StatusReady, models.StatusCancelled}},
		{RolePharmacist, models.StatusReady, []models.Status{models.StatusComplete, models.StatusCancelled}},
		{RolePharmacist, models.StatusComplete, []models.Status{}},
		{RolePharmacist, models.StatusCancelled, []models.Status{}},
		{Role("admin"), models.StatusPlaced, []models.Status{}},
		{RolePatient, models.Status("unknown"), []models.Status{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"_from_"+string(tt.current), func(t *testing.T) {
			assert.ElementsMatch(t, tt.expected, AvailableTransitions(tt.current, tt.role))
		})
	}
}

func TestAvailableTransitionsReturnsCopy(t *testing.T) {
	got := AvailableTransitions(models.StatusPlaced, RolePharmacist)
	got[0] = models.StatusComplete

	assert.False(t, CanTransition(models.StatusPlaced, models.StatusComplete, RolePharmacist))
}

func TestCanTransitionMatchesAvailableTransitions(t *testing.T) {
	allowed := map[Role]map[models.Status]map[models.Status]bool{
		RolePatient: {
			models.StatusPlaced: {models.StatusCancelled: true},
			models.StatusReady:  {models.StatusComplete: true},
		},
		RolePharmacist: {
			models.StatusPlaced: {models.StatusReady: true, models.StatusCancelled: true},
			models.StatusReady:  {models.StatusComplete: true, models.StatusCancelled: true},
		},
	}

	count := 0
	for _, role := range []Role{RolePatient, RolePharmacist} {
		for _, from := range models.Statuses {
			for _, to := range models.Statuses {
				count++
				want := allowed[role][from][to]

				inSet := false
				for _, s := range AvailableTransitions(from, role) {
					if s == to {
						inSet = true
					}
				}

				assert.Equal(t, want, CanTransition(from, to, role), "%s: %s -> %s", role, from, to)
				assert.Equal(t, inSet, CanTransition(from, to, role), "%s: %s -> %s", role, from, to)
			}
		}
	}
	assert.Equal(t, 32, count)
}

func TestNoTransitionReentersPlacedOrSkipsToComplete(t *testing.T) {
	for _, role := range []Role{RolePatient, RolePharmacist} {
		for _, from := range models.Statuses {
			assert.False(t, CanTransition(from, models.StatusPlaced, role))
		}
		assert.False(t, CanTransition(models.StatusPlaced, models.StatusComplete, role))
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(models.StatusPlaced))
	assert.False(t, IsTerminal(models.StatusReady))
	assert.True(t, IsTerminal(models.StatusComplete))
	assert.True(t, IsTerminal(models.StatusCancelled))
}

func TestCheckTransition(t *testing.T) {
	assert.NoError(t, CheckTransition(models.StatusPlaced, models.StatusReady, RolePharmacist))

	err := CheckTransition(models.StatusPlaced, models.StatusReady, RolePatient)
	assert.True(t, errors.Is(err, ErrForbiddenTransition))
}

func TestDisplayText(t *testing.T) {
	tests := []struct {
		status    models.Status
		initiator models.InitiatorType
		expected  string
	}{
		{models.StatusPlaced, models.InitiatorPatient, "Order placed"},
		{models.StatusPlaced, models.InitiatorPharmacy, "Awaiting patient"},
		{models.StatusReady, models.InitiatorPatient, "Ready for pickup"},
		{models.StatusReady, models.InitiatorPharmacy, "Ready for pickup"},
		{models.StatusComplete, models.InitiatorPharmacy, "Completed"},
		{models.StatusCancelled, models.InitiatorPatient, "Cancelled"},
		{models.StatusCancelled, models.InitiatorPharmacy, "Rejected"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, DisplayText(tt.status, tt.initiator), "%s/%s", tt.status, tt.initiator)
	}
}

func TestPresentUnknownStatus(t *testing.T) {
	p := Present(models.Status("lost"), models.InitiatorPatient)
	assert.Equal(t, "lost", p.Label)
}
