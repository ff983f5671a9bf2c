package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/pharmacy-portal/pkg/models"
)

const orderColumns = `id, patient_id, pharmacy_id, status, initiator_type, acceptance_status,
	acceptance_deadline, total_amount, fulfillment_status, notes, created_at, updated_at`

// Postgres is the Gateway backed by a Postgres database.
type Postgres struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

var _ Gateway = (*Postgres)(nil)

func NewPostgres(db *sqlx.DB, logger *logrus.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// OpenPostgres connects with lib/pq and waits for the database to answer.
func OpenPostgres(ctx context.Context, dsn string, logger *logrus.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	for i := 0; i < 30; i++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Info("Database connection established")
			return db, nil
		}
		logger.Info("Waiting for database...")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	db.Close()
	return nil, errors.Wrap(err, "database did not become ready")
}

func (p *Postgres) FindPendingExpiredOrders(ctx context.Context, now time.Time) ([]models.ExpiryCandidate, error) {
	query := `
		SELECT id, COALESCE(patient_id, '') AS patient_id, pharmacy_id
		FROM orders
		WHERE initiator_type = 'pharmacy'
		  AND acceptance_status = 'pending'
		  AND acceptance_deadline < $1
		ORDER BY id
	`
	var candidates []models.ExpiryCandidate
	if err := p.db.SelectContext(ctx, &candidates, query, now); err != nil {
		return nil, errors.Wrap(err, "select pending expired orders")
	}
	return candidates, nil
}

// SetOrderCancelled only touches proposals still in placed, so an order that
// moved on through the lifecycle is never pulled back to cancelled.
func (p *Postgres) SetOrderCancelled(ctx context.Context, orderID string, expected models.AcceptanceStatus) (int64, error) {
	query := `
		UPDATE orders
		SET status = 'cancelled', acceptance_status = 'rejected', updated_at = NOW()
		WHERE id = $1 AND acceptance_status = $2 AND status = 'placed'
	`
	res, err := p.db.ExecContext(ctx, query, orderID, string(expected))
	if err != nil {
		return 0, errors.Wrapf(err, "cancel order %s", orderID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(err, "rows affected for order %s", orderID)
	}
	return n, nil
}

func (p *Postgres) InsertNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, sender_id, receiver_id, kind, content, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var payload interface{}
	if len(n.Payload) > 0 {
		payload = string(n.Payload)
	}
	_, err := p.db.ExecContext(ctx, query, n.ID, n.SenderID, n.ReceiverID, string(n.Kind), n.Content, payload, n.CreatedAt)
	return errors.Wrapf(err, "insert notification %s", n.ID)
}

func (p *Postgres) SchemaReady(ctx context.Context) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema()
			  AND table_name = 'orders'
			  AND column_name = 'initiator_type'
		)
	`
	var ready bool
	if err := p.db.GetContext(ctx, &ready, query); err != nil {
		return false, errors.Wrap(err, "probe orders schema")
	}
	return ready, nil
}

func (p *Postgres) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES (:id, :patient_id, :pharmacy_id, :status, :initiator_type, :acceptance_status,
			:acceptance_deadline, :total_amount, :fulfillment_status, :notes, :created_at, :updated_at)
	`
	_, err := p.db.NamedExecContext(ctx, query, order)
	return errors.Wrapf(err, "insert order %s", order.ID)
}

func (p *Postgres) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := p.db.GetContext(ctx, &order, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", orderID)
	}
	return &order, nil
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, orderID string, from, to models.Status) error {
	query := `UPDATE orders SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`
	res, err := p.db.ExecContext(ctx, query, orderID, string(from), string(to))
	if err != nil {
		return errors.Wrapf(err, "update status of order %s", orderID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "rows affected for order %s", orderID)
	}
	if n == 0 {
		return p.missingOr(ctx, orderID, ErrStaleOrder)
	}
	return nil
}

func (p *Postgres) RespondToProposal(ctx context.Context, orderID string, decision models.AcceptanceStatus, now time.Time) (*models.Order, error) {
	query := `
		UPDATE orders
		SET acceptance_status = $2,
		    status = CASE WHEN $2::text = 'rejected' THEN 'cancelled' ELSE status END,
		    updated_at = $3
		WHERE id = $1
		  AND acceptance_status = 'pending'
		  AND status = 'placed'
		  AND (acceptance_deadline IS NULL OR acceptance_deadline > $3)
		RETURNING ` + orderColumns
	var order models.Order
	err := p.db.GetContext(ctx, &order, query, orderID, string(decision), now)
	if err == sql.ErrNoRows {
		return nil, p.missingOr(ctx, orderID, ErrProposalClosed)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "respond to proposal %s", orderID)
	}
	return &order, nil
}

type notificationRow struct {
	ID         string    `db:"id"`
	SenderID   string    `db:"sender_id"`
	ReceiverID string    `db:"receiver_id"`
	Kind       string    `db:"kind"`
	Content    string    `db:"content"`
	Payload    []byte    `db:"payload"`
	CreatedAt  time.Time `db:"created_at"`
}

func (p *Postgres) ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, sender_id, receiver_id, kind, content, payload, created_at
		FROM notifications
		WHERE receiver_id = $1 OR sender_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var rows []notificationRow
	if err := p.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, errors.Wrapf(err, "list notifications for %s", userID)
	}

	result := make([]*models.Notification, 0, len(rows))
	for _, r := range rows {
		result = append(result, &models.Notification{
			ID:         r.ID,
			SenderID:   r.SenderID,
			ReceiverID: r.ReceiverID,
			Kind:       models.NotificationKind(r.Kind),
			Content:    r.Content,
			Payload:    r.Payload,
			CreatedAt:  r.CreatedAt,
		})
	}
	return result, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// missingOr distinguishes a missing order from a failed conditional update.
func (p *Postgres) missingOr(ctx context.Context, orderID string, conflict error) error {
	var exists bool
	if err := p.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID); err != nil {
		return errors.Wrapf(err, "check order %s", orderID)
	}
	if !exists {
		return ErrOrderNotFound
	}
	return conflict
}
