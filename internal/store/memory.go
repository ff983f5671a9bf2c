package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jogardn/pharmacy-portal/pkg/models"
)

// Memory is an in-process Gateway used for local development and tests.
type Memory struct {
	mu            sync.RWMutex
	orders        map[string]models.Order
	notifications []models.Notification
}

var _ Gateway = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		orders: make(map[string]models.Order),
	}
}

func (m *Memory) FindPendingExpiredOrders(_ context.Context, now time.Time) ([]models.ExpiryCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []models.ExpiryCandidate
	for _, o := range m.orders {
		if o.InitiatorType != models.InitiatorPharmacy || o.AcceptanceStatus != models.AcceptancePending {
			continue
		}
		if o.AcceptanceDeadline == nil || !o.AcceptanceDeadline.Before(now) {
			continue
		}
		candidates = append(candidates, models.ExpiryCandidate{
			ID:         o.ID,
			PatientID:  o.PatientRef(),
			PharmacyID: o.PharmacyID,
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates, nil
}

func (m *Memory) SetOrderCancelled(_ context.Context, orderID string, expected models.AcceptanceStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.AcceptanceStatus != expected || o.Status != models.StatusPlaced {
		return 0, nil
	}
	o.Status = models.StatusCancelled
	o.AcceptanceStatus = models.AcceptanceRejected
	o.UpdatedAt = time.Now().UTC()
	m.orders[orderID] = o
	return 1, nil
}

func (m *Memory) InsertNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *Memory) SchemaReady(context.Context) (bool, error) {
	return true, nil
}

func (m *Memory) CreateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = *order
	return nil
}

func (m *Memory) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

func (m *Memory) UpdateOrderStatus(_ context.Context, orderID string, from, to models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != from {
		return ErrStaleOrder
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	m.orders[orderID] = o
	return nil
}

func (m *Memory) RespondToProposal(_ context.Context, orderID string, decision models.AcceptanceStatus, now time.Time) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.AcceptanceStatus != models.AcceptancePending || o.Status != models.StatusPlaced {
		return nil, ErrProposalClosed
	}
	if o.AcceptanceDeadline != nil && !now.Before(*o.AcceptanceDeadline) {
		return nil, ErrProposalClosed
	}
	o.AcceptanceStatus = decision
	if decision == models.AcceptanceRejected {
		o.Status = models.StatusCancelled
	}
	o.UpdatedAt = now.UTC()
	m.orders[orderID] = o
	return &o, nil
}

func (m *Memory) ListNotifications(_ context.Context, userID string, limit int) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.ReceiverID != userID && n.SenderID != userID {
			continue
		}
		result = append(result, &n)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

// Notifications returns a snapshot of every stored notification in insertion order.
func (m *Memory) Notifications() []models.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Notification, len(m.notifications))
	copy(result, m.notifications)
	return result
}
