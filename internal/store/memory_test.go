package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jogardn/pharmacy-portal/pkg/models"
)

func proposal(id string, deadline time.Time) *models.Order {
	patientID := "pat-" + id
	return &models.Order{
		ID:                 id,
		PatientID:          &patientID,
		PharmacyID:         "ph-1",
		Status:             models.StatusPlaced,
		InitiatorType:      models.InitiatorPharmacy,
		AcceptanceStatus:   models.AcceptancePending,
		AcceptanceDeadline: &deadline,
	}
}

func TestMemoryExpiryPredicate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()

	require.NoError(t, m.CreateOrder(ctx, proposal("b-past", now.Add(-time.Microsecond))))
	require.NoError(t, m.CreateOrder(ctx, proposal("a-past", now.Add(-time.Hour))))
	require.NoError(t, m.CreateOrder(ctx, proposal("exact", now)))
	require.NoError(t, m.CreateOrder(ctx, proposal("future", now.Add(time.Hour))))

	accepted := proposal("accepted", now.Add(-time.Hour))
	accepted.AcceptanceStatus = models.AcceptanceAccepted
	require.NoError(t, m.CreateOrder(ctx, accepted))

	patientOrder := proposal("patient", now.Add(-time.Hour))
	patientOrder.InitiatorType = models.InitiatorPatient
	require.NoError(t, m.CreateOrder(ctx, patientOrder))

	candidates, err := m.FindPendingExpiredOrders(ctx, now)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "a-past", candidates[0].ID)
	assert.Equal(t, "b-past", candidates[1].ID)
	assert.Equal(t, "pat-a-past", candidates[0].PatientID)
}

func TestMemorySetOrderCancelledIsConditional(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateOrder(ctx, proposal("ord-1", time.Now().Add(-time.Hour))))

	n, err := m.SetOrderCancelled(ctx, "ord-1", models.AcceptancePending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.SetOrderCancelled(ctx, "ord-1", models.AcceptancePending)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = m.SetOrderCancelled(ctx, "missing", models.AcceptancePending)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	order, err := m.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, order.Status)
	assert.Equal(t, models.AcceptanceRejected, order.AcceptanceStatus)
}

func TestMemorySetOrderCancelledOnlyFromPlaced(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	completed := proposal("ord-1", time.Now().Add(-time.Hour))
	completed.Status = models.StatusComplete
	require.NoError(t, m.CreateOrder(ctx, completed))

	n, err := m.SetOrderCancelled(ctx, "ord-1", models.AcceptancePending)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	order, err := m.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, order.Status)
	assert.Equal(t, models.AcceptancePending, order.AcceptanceStatus)
}

func TestMemoryUpdateOrderStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateOrder(ctx, proposal("ord-1", time.Now())))

	require.NoError(t, m.UpdateOrderStatus(ctx, "ord-1", models.StatusPlaced, models.StatusReady))
	assert.ErrorIs(t, m.UpdateOrderStatus(ctx, "ord-1", models.StatusPlaced, models.StatusCancelled), ErrStaleOrder)
	assert.ErrorIs(t, m.UpdateOrderStatus(ctx, "missing", models.StatusPlaced, models.StatusReady), ErrOrderNotFound)
}

func TestMemoryRespondToProposal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	require.NoError(t, m.CreateOrder(ctx, proposal("open", now.Add(time.Hour))))
	require.NoError(t, m.CreateOrder(ctx, proposal("late", now)))

	order, err := m.RespondToProposal(ctx, "open", models.AcceptanceRejected, now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, order.Status)

	_, err = m.RespondToProposal(ctx, "open", models.AcceptanceAccepted, now)
	assert.ErrorIs(t, err, ErrProposalClosed)

	_, err = m.RespondToProposal(ctx, "late", models.AcceptanceAccepted, now)
	assert.ErrorIs(t, err, ErrProposalClosed)

	_, err = m.RespondToProposal(ctx, "missing", models.AcceptanceAccepted, now)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMemoryListNotifications(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, n := range []models.Notification{
		{ID: "n1", SenderID: "ph-1", ReceiverID: "pat-1"},
		{ID: "n2", SenderID: "pat-1", ReceiverID: "ph-1"},
		{ID: "n3", SenderID: "ph-2", ReceiverID: "pat-2"},
	} {
		n := n
		require.NoError(t, m.InsertNotification(ctx, &n))
	}

	inbox, err := m.ListNotifications(ctx, "pat-1", 0)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, "n2", inbox[0].ID)
	assert.Equal(t, "n1", inbox[1].ID)

	limited, err := m.ListNotifications(ctx, "pat-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
	assert.Len(t, m.Notifications(), 3)
}
