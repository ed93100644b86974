package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"paylink-be/internal/logger"

	"go.uber.org/zap"
)

type Repository interface {
	GetByPaymentID(ctx context.Context, paymentID string) (*Order, error)

	// TransitionFromPending atomically moves an order to a terminal status
	// only if it is still PENDING. Returns false when the precondition
	// failed, which callers treat as a duplicate delivery.
	TransitionFromPending(
		ctx context.Context,
		paymentID string,
		to Status,
		providerResponse json.RawMessage,
		clearInstrument bool,
	) (bool, error)

	// SelectExpiring returns PENDING orders whose expiry falls inside the
	// lookahead window, for the reconciliation precheck sweep.
	SelectExpiring(ctx context.Context, within time.Duration, limit int) ([]*Order, error)

	// SelectOverdue returns PENDING orders already past expiry, for the
	// fallback expire sweep.
	SelectOverdue(ctx context.Context, limit int) ([]*Order, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const orderColumns = `
	id, order_id, payment_id, user_id, client_id, amount, status,
	instrument, payment_expired, instrument_payload, provider_response,
	created_at, updated_at
`

func (r *repository) GetByPaymentID(ctx context.Context, paymentID string) (*Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE payment_id = $1
	`

	o, err := scanOrder(r.db.QueryRowContext(ctx, query, paymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) TransitionFromPending(
	ctx context.Context,
	paymentID string,
	to Status,
	providerResponse json.RawMessage,
	clearInstrument bool,
) (bool, error) {

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "TransitionFromPending"),
		zap.String("payment_id", paymentID),
		zap.String("target_status", string(to)),
	)

	query := `
		UPDATE orders
		SET
			status = $1,
			provider_response = COALESCE($2, provider_response),
			instrument_payload = CASE WHEN $3 THEN NULL ELSE instrument_payload END,
			updated_at = NOW()
		WHERE payment_id = $4
		  AND status = 'PENDING'
	`

	// lib/pq encodes []byte as bytea; jsonb columns need text.
	var raw interface{}
	if len(providerResponse) > 0 {
		raw = string(providerResponse)
	}

	res, err := r.db.ExecContext(ctx, query, to, raw, clearInstrument, paymentID)
	if err != nil {
		log.Error("failed to transition order", zap.Error(err))
		return false, err
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		log.Debug("transition precondition failed, order no longer pending")
		return false, nil
	}

	log.Info("order transitioned")
	return true, nil
}

func (r *repository) SelectExpiring(ctx context.Context, within time.Duration, limit int) ([]*Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = 'PENDING'
		  AND payment_expired IS NOT NULL
		  AND payment_expired > NOW()
		  AND payment_expired <= NOW() + make_interval(secs => $1)
		ORDER BY payment_expired ASC
		LIMIT $2
	`

	return r.selectOrders(ctx, query, within.Seconds(), limit)
}

func (r *repository) SelectOverdue(ctx context.Context, limit int) ([]*Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = 'PENDING'
		  AND payment_expired IS NOT NULL
		  AND payment_expired <= NOW()
		ORDER BY payment_expired ASC
		LIMIT $1
	`

	return r.selectOrders(ctx, query, limit)
}

func (r *repository) selectOrders(ctx context.Context, query string, args ...interface{}) ([]*Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var expired sql.NullTime
	var payload, response []byte

	err := row.Scan(
		&o.ID,
		&o.OrderID,
		&o.PaymentID,
		&o.UserID,
		&o.ClientID,
		&o.Amount,
		&o.Status,
		&o.Instrument,
		&expired,
		&payload,
		&response,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if expired.Valid {
		t := expired.Time
		o.PaymentExpired = &t
	}
	if len(payload) > 0 {
		o.InstrumentPayload = json.RawMessage(payload)
	}
	if len(response) > 0 {
		o.ProviderResponse = json.RawMessage(response)
	}

	return &o, nil
}
