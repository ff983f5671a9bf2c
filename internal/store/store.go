package store

import (
	"context"
	"errors"
	"time"

	"github.com/jogardn/pharmacy-portal/pkg/models"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrStaleOrder     = errors.New("order has been modified concurrently")
	ErrSchemaNotReady = errors.New("orders schema is missing the initiator_type column")
	ErrProposalClosed = errors.New("order proposal is no longer open")
)

// Gateway is the persistence boundary for orders and notifications.
type Gateway interface {
	// FindPendingExpiredOrders returns pharmacy-initiated orders still pending
	// acceptance whose deadline is strictly before now.
	FindPendingExpiredOrders(ctx context.Context, now time.Time) ([]models.ExpiryCandidate, error)

	// SetOrderCancelled force-cancels an order only while its acceptance status
	// still equals expected and its status is still placed. It returns the
	// number of rows changed.
	SetOrderCancelled(ctx context.Context, orderID string, expected models.AcceptanceStatus) (int64, error)

	InsertNotification(ctx context.Context, n *models.Notification) error

	// SchemaReady reports whether the orders table carries the columns the
	// expiry sweep depends on.
	SchemaReady(ctx context.Context) (bool, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)

	// UpdateOrderStatus moves an order from -> to. ErrStaleOrder is returned when
	// the stored status no longer equals from.
	UpdateOrderStatus(ctx context.Context, orderID string, from, to models.Status) error

	// RespondToProposal records the patient's decision on a pending proposal
	// whose deadline has not passed. Rejection also cancels the order.
	RespondToProposal(ctx context.Context, orderID string, decision models.AcceptanceStatus, now time.Time) (*models.Order, error)

	ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error)

	Ping(ctx context.Context) error
}
