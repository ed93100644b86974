package order

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderRows = []string{
	"id", "order_id", "payment_id", "user_id", "client_id", "amount", "status",
	"instrument", "payment_expired", "instrument_payload", "provider_response",
	"created_at", "updated_at",
}

func TestRepository_GetByPaymentID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now()

	t.Run("Success", func(t *testing.T) {
		expired := now.Add(time.Hour)
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE payment_id = \$1`).
			WithArgs("PL-abc123").
			WillReturnRows(sqlmock.NewRows(orderRows).AddRow(
				1, "ord-001", "PL-abc123", 7, "client-01", 150000, "PENDING",
				"QRIS", expired, []byte(`{"qrString":"000201"}`), nil, now, now,
			))

		o, err := repo.GetByPaymentID(ctx, "PL-abc123")
		require.NoError(t, err)
		assert.Equal(t, "PL-abc123", o.PaymentID)
		assert.Equal(t, StatusPending, o.Status)
		require.NotNil(t, o.PaymentExpired)
		assert.WithinDuration(t, expired, *o.PaymentExpired, time.Second)
		assert.JSONEq(t, `{"qrString":"000201"}`, string(o.InstrumentPayload))
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE payment_id = \$1`).
			WithArgs("PL-missing").
			WillReturnRows(sqlmock.NewRows(orderRows))

		_, err := repo.GetByPaymentID(ctx, "PL-missing")
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM orders WHERE payment_id = \$1`).
			WithArgs("PL-abc123").
			WillReturnError(errors.New("database error"))

		_, err := repo.GetByPaymentID(ctx, "PL-abc123")
		assert.Error(t, err)
	})
}

func TestRepository_TransitionFromPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	ctx := context.Background()
	raw := json.RawMessage(`{"transactionStatus":"00"}`)

	t.Run("Applied", func(t *testing.T) {
		mock.ExpectExec(`UPDATE orders SET`).
			WithArgs(StatusPaid, string(raw), true, "PL-abc123").
			WillReturnResult(sqlmock.NewResult(0, 1))

		applied, err := repo.TransitionFromPending(ctx, "PL-abc123", StatusPaid, raw, true)
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("PreconditionFailed", func(t *testing.T) {
		mock.ExpectExec(`UPDATE orders SET`).
			WithArgs(StatusPaid, string(raw), true, "PL-abc123").
			WillReturnResult(sqlmock.NewResult(0, 0))

		applied, err := repo.TransitionFromPending(ctx, "PL-abc123", StatusPaid, raw, true)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("NilResponseKeepsStored", func(t *testing.T) {
		mock.ExpectExec(`UPDATE orders SET`).
			WithArgs(StatusExpired, nil, false, "PL-abc123").
			WillReturnResult(sqlmock.NewResult(0, 1))

		applied, err := repo.TransitionFromPending(ctx, "PL-abc123", StatusExpired, nil, false)
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectExec(`UPDATE orders SET`).
			WillReturnError(errors.New("db error"))

		_, err := repo.TransitionFromPending(ctx, "PL-abc123", StatusPaid, raw, true)
		assert.Error(t, err)
	})
}

func TestRepository_SelectExpiring(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM orders WHERE status = 'PENDING' AND payment_expired IS NOT NULL AND payment_expired > NOW\(\)`).
		WithArgs(float64(120), 200).
		WillReturnRows(sqlmock.NewRows(orderRows).
			AddRow(1, "ord-001", "PL-1", 7, "client-01", 1000, "PENDING",
				"QRIS", now.Add(time.Minute), nil, nil, now, now).
			AddRow(2, "ord-002", "PL-2", 8, "client-02", 2000, "PENDING",
				"VA", now.Add(90*time.Second), nil, nil, now, now))

	orders, err := repo.SelectExpiring(context.Background(), 2*time.Minute, 200)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "PL-1", orders[0].PaymentID)
	assert.Equal(t, "PL-2", orders[1].PaymentID)
}

func TestRepository_SelectOverdue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM orders WHERE status = 'PENDING' AND payment_expired IS NOT NULL AND payment_expired <= NOW\(\)`).
		WithArgs(500).
		WillReturnRows(sqlmock.NewRows(orderRows).
			AddRow(3, "ord-003", "PL-3", 9, "client-01", 3000, "PENDING",
				"EMONEY", now.Add(-time.Minute), nil, nil, now, now))

	orders, err := repo.SelectOverdue(context.Background(), 500)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "PL-3", orders[0].PaymentID)
}
