package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"paylink-be/internal/logger"

	"go.uber.org/zap"
)

// Service is the state transition function. Webhook handlers and the queue
// worker feed it provider events; the reconciliation scheduler feeds it
// already-normalized statuses via Transition.
type Service interface {
	Apply(ctx context.Context, ev ProviderEvent) (*Result, error)
	Transition(ctx context.Context, paymentID string, to Status, providerResponse json.RawMessage) (*Result, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) Service {
	return &service{repo: repo, now: time.Now}
}

var codeToStatus = map[string]Status{
	CodePaid:    StatusPaid,
	CodeExpired: StatusExpired,
	CodeFailed:  StatusFailed,
	CodeCancel:  StatusCancel,
}

// Apply maps the provider status code and runs the transition. An
// unrecognized code is an explicit error, never silently ignored.
func (s *service) Apply(ctx context.Context, ev ProviderEvent) (*Result, error) {
	target, ok := codeToStatus[ev.StatusCode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnhandledStatus, ev.StatusCode)
	}

	return s.Transition(ctx, ev.PaymentID, target, ev.Raw)
}

func (s *service) Transition(
	ctx context.Context,
	paymentID string,
	to Status,
	providerResponse json.RawMessage,
) (*Result, error) {

	if !to.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransition, to)
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "Transition"),
		zap.String("payment_id", paymentID),
		zap.String("target_status", string(to)),
	)

	o, err := s.repo.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	// Duplicate delivery for an already-settled order is a success, not an
	// error. No side effects are re-applied.
	if o.Status.Terminal() {
		log.Info("order already terminal, idempotent no-op",
			zap.String("current_status", string(o.Status)),
		)
		return &Result{Order: o, Applied: false}, nil
	}

	// Expiry takes precedence over a stale event arriving late.
	if o.PaymentExpired != nil && s.now().After(*o.PaymentExpired) {
		if to != StatusExpired {
			log.Warn("order past expiry, forcing EXPIRED over inbound status",
				zap.String("inbound_status", string(to)),
				zap.Time("payment_expired", *o.PaymentExpired),
			)
		}
		to = StatusExpired
	}

	// Paid orders no longer need QR/VA/link data; keep the provider
	// envelope for audit and refund calls instead.
	clearInstrument := to == StatusPaid

	applied, err := s.repo.TransitionFromPending(ctx, paymentID, to, providerResponse, clearInstrument)
	if err != nil {
		// Persistence failures are retryable; the caller must not ack the
		// source message.
		return nil, err
	}

	if !applied {
		// Lost a race with a concurrent delivery. The other write won, so
		// this one is a duplicate.
		log.Info("transition precondition failed, treating as duplicate")
		current, err := s.repo.GetByPaymentID(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		return &Result{Order: current, Applied: false}, nil
	}

	o.Status = to
	ev := &Event{
		PaymentID:  o.PaymentID,
		OrderID:    o.OrderID,
		ClientID:   o.ClientID,
		Status:     to,
		Amount:     o.Amount,
		OccurredAt: s.now(),
	}

	log.Info("transition applied")
	return &Result{Order: o, Applied: true, Event: ev}, nil
}
