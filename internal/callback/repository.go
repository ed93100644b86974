package callback

import (
	"context"
	"database/sql"
	"errors"

	"paylink-be/internal/logger"

	"go.uber.org/zap"
)

type FailedRepository interface {
	// Upsert creates or refreshes the retry record for a trade number.
	Upsert(ctx context.Context, fc *FailedCallback) error
	GetByID(ctx context.Context, id uint) (*FailedCallback, error)
	MarkCompleted(ctx context.Context, paymentID string) error
	Delete(ctx context.Context, id uint) error
}

type failedRepository struct {
	db *sql.DB
}

func NewFailedRepository(db *sql.DB) FailedRepository {
	return &failedRepository{db: db}
}

func (r *failedRepository) Upsert(ctx context.Context, fc *FailedCallback) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "Upsert"),
		zap.String("payment_id", fc.PaymentID),
		zap.Int("retry_count", fc.RetryCount),
	)

	query := `
		INSERT INTO failed_callbacks (
			payment_id, client_id, callback_url, payload,
			retry_count, next_retry_at, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (payment_id)
		DO UPDATE SET
			retry_count = EXCLUDED.retry_count,
			next_retry_at = EXCLUDED.next_retry_at,
			status = EXCLUDED.status,
			updated_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query,
		fc.PaymentID,
		fc.ClientID,
		fc.CallbackURL,
		jsonArg(fc.Payload),
		fc.RetryCount,
		fc.NextRetryAt,
		fc.Status,
	)
	if err != nil {
		log.Error("failed to upsert failed callback", zap.Error(err))
		return err
	}

	log.Debug("failed callback upserted")
	return nil
}

func (r *failedRepository) GetByID(ctx context.Context, id uint) (*FailedCallback, error) {
	query := `
		SELECT id, payment_id, client_id, callback_url, payload,
		       retry_count, next_retry_at, status, created_at, updated_at
		FROM failed_callbacks
		WHERE id = $1
	`

	var fc FailedCallback
	var next sql.NullTime
	var payload []byte

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&fc.ID,
		&fc.PaymentID,
		&fc.ClientID,
		&fc.CallbackURL,
		&payload,
		&fc.RetryCount,
		&next,
		&fc.Status,
		&fc.CreatedAt,
		&fc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCallbackNotFound
	}
	if err != nil {
		return nil, err
	}

	if next.Valid {
		t := next.Time
		fc.NextRetryAt = &t
	}
	fc.Payload = payload

	return &fc, nil
}

func (r *failedRepository) MarkCompleted(ctx context.Context, paymentID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE failed_callbacks
		SET status = 'COMPLETED', updated_at = NOW()
		WHERE payment_id = $1
	`, paymentID)
	return err
}

func (r *failedRepository) Delete(ctx context.Context, id uint) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM failed_callbacks WHERE id = $1`, id)
	if err != nil {
		return err
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrCallbackNotFound
	}
	return nil
}

type LogRepository interface {
	Insert(ctx context.Context, l *CallbackLog) error
	ListByPaymentID(ctx context.Context, paymentID string) ([]*CallbackLog, error)
}

type logRepository struct {
	db *sql.DB
}

func NewLogRepository(db *sql.DB) LogRepository {
	return &logRepository{db: db}
}

func (r *logRepository) Insert(ctx context.Context, l *CallbackLog) error {
	query := `
		INSERT INTO callback_logs (
			direction, payment_id, target, status, payload, response, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`

	_, err := r.db.ExecContext(ctx, query,
		l.Direction,
		l.PaymentID,
		l.Target,
		l.Status,
		jsonArg(l.Payload),
		jsonArg(l.Response),
		l.Error,
	)
	return err
}

// jsonArg renders raw JSON for a jsonb column; lib/pq would encode []byte as
// bytea. Empty input becomes NULL.
func jsonArg(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (r *logRepository) ListByPaymentID(ctx context.Context, paymentID string) ([]*CallbackLog, error) {
	query := `
		SELECT id, direction, payment_id, target, status, payload, response,
		       error, created_at
		FROM callback_logs
		WHERE payment_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*CallbackLog
	for rows.Next() {
		var l CallbackLog
		var payload, response []byte
		if err := rows.Scan(
			&l.ID,
			&l.Direction,
			&l.PaymentID,
			&l.Target,
			&l.Status,
			&payload,
			&response,
			&l.Error,
			&l.CreatedAt,
		); err != nil {
			return nil, err
		}
		l.Payload = payload
		l.Response = response
		logs = append(logs, &l)
	}

	return logs, rows.Err()
}
