package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"paylink-be/internal/callback"
	"paylink-be/internal/logger"
	"paylink-be/internal/order"

	"go.uber.org/zap"
)

// ErrNonRetryable marks failures that requeueing cannot fix; the consumer
// routes them straight to the dead-letter topic.
var ErrNonRetryable = errors.New("non-retryable message")

// Topics names the queues the worker consumes and produces.
type Topics struct {
	// Events carries raw provider events that still need a state
	// transition.
	Events string
	// Forwards carries normalized events that only need merchant delivery.
	Forwards string
	// DeadLetter captures exhausted or unprocessable messages for
	// inspection.
	DeadLetter string
}

// Processor applies queued messages: state transitions for provider events,
// merchant delivery for forward events.
type Processor struct {
	orders    order.Service
	forwarder *callback.Forwarder
	producer  Publisher
	topics    Topics
}

func NewProcessor(orders order.Service, forwarder *callback.Forwarder, producer Publisher, topics Topics) *Processor {
	return &Processor{
		orders:    orders,
		forwarder: forwarder,
		producer:  producer,
		topics:    topics,
	}
}

// HandleEvent runs the transition for a raw provider event and, when a real
// state change happened, publishes the normalized event for forwarding.
func (p *Processor) HandleEvent(ctx context.Context, payload []byte, retryCount int) error {
	var ev order.ProviderEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("%w: invalid event payload: %v", ErrNonRetryable, err)
	}

	log := logger.FromCtx(ctx).With(
		zap.String("payment_id", ev.PaymentID),
		zap.Int("retry_count", retryCount),
	)

	res, err := p.orders.Apply(ctx, ev)
	if err != nil {
		// Unknown orders and unmapped status codes will not get better on
		// redelivery; everything else (db down, timeouts) will.
		if errors.Is(err, order.ErrOrderNotFound) || errors.Is(err, order.ErrUnhandledStatus) {
			return fmt.Errorf("%w: %v", ErrNonRetryable, err)
		}
		return err
	}

	if !res.Applied {
		log.Info("duplicate event, already terminal")
		return nil
	}

	forward, err := json.Marshal(res.Event)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNonRetryable, err)
	}

	if err := p.producer.Publish(p.topics.Forwards, ev.PaymentID, forward, 0); err != nil {
		// The transition is already durable; delivery must not be lost.
		return err
	}

	log.Info("event processed", zap.String("status", string(res.Event.Status)))
	return nil
}

// HandleForward makes one merchant delivery attempt for a queued event.
func (p *Processor) HandleForward(ctx context.Context, payload []byte, retryCount int) error {
	var ev order.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("%w: invalid forward payload: %v", ErrNonRetryable, err)
	}

	return p.forwarder.ForwardOnce(ctx, ev, retryCount)
}
