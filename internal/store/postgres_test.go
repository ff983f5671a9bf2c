package store

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jogardn/pharmacy-portal/pkg/models"
)

func newMockGateway(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewPostgres(sqlx.NewDb(db, "postgres"), logger), mock
}

func TestPostgresFindPendingExpiredOrders(t *testing.T) {
	gw, mock := newMockGateway(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("acceptance_deadline < $1")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "patient_id", "pharmacy_id"}).
			AddRow("ord-1", "pat-1", "ph-1").
			AddRow("ord-2", "", "ph-1"))

	candidates, err := gw.FindPendingExpiredOrders(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []models.ExpiryCandidate{
		{ID: "ord-1", PatientID: "pat-1", PharmacyID: "ph-1"},
		{ID: "ord-2", PatientID: "", PharmacyID: "ph-1"},
	}, candidates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindPendingExpiredOrdersError(t *testing.T) {
	gw, mock := newMockGateway(t)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	_, err := gw.FindPendingExpiredOrders(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgresSetOrderCancelledIsConditional(t *testing.T) {
	gw, mock := newMockGateway(t)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND acceptance_status = $2 AND status = 'placed'")).
		WithArgs("ord-1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders").
		WithArgs("ord-1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := gw.SetOrderCancelled(context.Background(), "ord-1", models.AcceptancePending)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = gw.SetOrderCancelled(context.Background(), "ord-1", models.AcceptancePending)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertNotification(t *testing.T) {
	gw, mock := newMockGateway(t)
	created := time.Now().UTC()

	mock.ExpectExec("INSERT INTO notifications").
		WithArgs("n-1", "ph-1", "pat-1", "order_event", "content", `{"type":"order_expired"}`, created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs("n-2", "pat-1", "ph-1", "chat", "hi", nil, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := gw.InsertNotification(context.Background(), &models.Notification{
		ID: "n-1", SenderID: "ph-1", ReceiverID: "pat-1", Kind: models.KindOrderEvent,
		Content: "content", Payload: []byte(`{"type":"order_expired"}`), CreatedAt: created,
	})
	require.NoError(t, err)

	err = gw.InsertNotification(context.Background(), &models.Notification{
		ID: "n-2", SenderID: "pat-1", ReceiverID: "ph-1", Kind: models.KindChat,
		Content: "hi", CreatedAt: created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSchemaReady(t *testing.T) {
	gw, mock := newMockGateway(t)

	mock.ExpectQuery("information_schema.columns").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ready, err := gw.SchemaReady(context.Background())
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestPostgresUpdateOrderStatus(t *testing.T) {
	gw, mock := newMockGateway(t)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $2")).
		WithArgs("ord-1", "placed", "ready").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, gw.UpdateOrderStatus(context.Background(), "ord-1", models.StatusPlaced, models.StatusReady))

	mock.ExpectExec("UPDATE orders").
		WithArgs("ord-1", "placed", "ready").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	err := gw.UpdateOrderStatus(context.Background(), "ord-1", models.StatusPlaced, models.StatusReady)
	assert.ErrorIs(t, err, ErrStaleOrder)

	mock.ExpectExec("UPDATE orders").
		WithArgs("missing", "placed", "ready").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	err = gw.UpdateOrderStatus(context.Background(), "missing", models.StatusPlaced, models.StatusReady)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetOrderNotFound(t *testing.T) {
	gw, mock := newMockGateway(t)

	mock.ExpectQuery("FROM orders WHERE id = \\$1").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := gw.GetOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPostgresListNotificationsNullPayload(t *testing.T) {
	gw, mock := newMockGateway(t)
	created := time.Now().UTC()

	mock.ExpectQuery("FROM notifications").
		WithArgs("pat-1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender_id", "receiver_id", "kind", "content", "payload", "created_at"}).
			AddRow("n-1", "ph-1", "pat-1", "chat", "hello", nil, created))

	list, err := gw.ListNotifications(context.Background(), "pat-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.KindChat, list[0].Kind)
	assert.Nil(t, list[0].Payload)
}
