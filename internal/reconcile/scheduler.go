package reconcile

import (
	"context"
	"sync"
	"time"

	"paylink-be/internal/logger"
	"paylink-be/internal/order"
	"paylink-be/internal/provider"

	"go.uber.org/zap"
)

// Notifier forwards a normalized event to the owning merchant. Satisfied by
// the callback forwarder.
type Notifier interface {
	Forward(ctx context.Context, ev order.Event) bool
}

// Config tunes the two sweeps independently so each can be adjusted against
// provider rate limits.
type Config struct {
	Interval            time.Duration
	PrecheckWindow      time.Duration
	PrecheckConcurrency int
	PrecheckBatchSize   int
	ExpireBatchSize     int
	CallTimeout         time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.PrecheckWindow <= 0 {
		c.PrecheckWindow = 120 * time.Second
	}
	if c.PrecheckConcurrency <= 0 {
		c.PrecheckConcurrency = 20
	}
	if c.PrecheckBatchSize <= 0 {
		c.PrecheckBatchSize = 200
	}
	if c.ExpireBatchSize <= 0 {
		c.ExpireBatchSize = 500
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
}

// Scheduler reconciles pending orders so their state does not depend solely
// on provider webhook delivery.
type Scheduler struct {
	orders   order.Repository
	svc      order.Service
	provider provider.StatusClient
	notifier Notifier
	cfg      Config
}

func NewScheduler(
	orders order.Repository,
	svc order.Service,
	statusClient provider.StatusClient,
	notifier Notifier,
	cfg Config,
) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		orders:   orders,
		svc:      svc,
		provider: statusClient,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Run executes both sweeps on a fixed interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log := logger.L().With(zap.String("component", "reconcile"))
	log.Info("reconciliation scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("precheck_window", s.cfg.PrecheckWindow),
		zap.Int("precheck_concurrency", s.cfg.PrecheckConcurrency),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("reconciliation scheduler stopped")
			return
		case <-ticker.C:
			s.RunPrecheck(ctx)
			s.RunExpire(ctx)
		}
	}
}

// RunPrecheck polls provider status for pending orders whose expiry is
// inside the lookahead window, under a bounded worker pool.
func (s *Scheduler) RunPrecheck(ctx context.Context) {
	log := logger.FromCtx(ctx).With(zap.String("sweep", "precheck"))

	orders, err := s.orders.SelectExpiring(ctx, s.cfg.PrecheckWindow, s.cfg.PrecheckBatchSize)
	if err != nil {
		log.Error("failed to select expiring orders", zap.Error(err))
		return
	}
	if len(orders) == 0 {
		return
	}

	log.Info("precheck sweep started", zap.Int("orders", len(orders)))

	sem := make(chan struct{}, s.cfg.PrecheckConcurrency)
	var wg sync.WaitGroup

	for _, o := range orders {
		wg.Add(1)
		sem <- struct{}{}

		go func(o *order.Order) {
			defer wg.Done()
			defer func() { <-sem }()
			s.precheckOne(ctx, o)
		}(o)
	}

	wg.Wait()
	log.Info("precheck sweep finished")
}

func (s *Scheduler) precheckOne(ctx context.Context, o *order.Order) {
	log := logger.FromCtx(ctx).With(
		zap.String("sweep", "precheck"),
		zap.String("payment_id", o.PaymentID),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	res, err := s.provider.GetStatus(callCtx, o.PaymentID)
	if err != nil {
		// Transient: the order stays pending, the next sweep or the
		// fallback expire sweep will pick it up.
		log.Warn("provider status query failed", zap.Error(err))
		return
	}

	var target order.Status
	switch res.Status {
	case provider.StatusPaid:
		target = order.StatusPaid
	case provider.StatusExpired:
		target = order.StatusExpired
	case provider.StatusFailed:
		target = order.StatusFailed
	case provider.StatusCancel:
		target = order.StatusCancel
	default:
		// Still pending provider-side, nothing to transition.
		return
	}

	result, err := s.svc.Transition(ctx, o.PaymentID, target, res.Raw)
	if err != nil {
		log.Error("transition failed", zap.Error(err))
		return
	}

	if result.Applied && result.Event != nil {
		log.Info("order reconciled", zap.String("status", string(target)))
		// Delivery outlives the sweep; the forwarder's tracker owns draining.
		go s.notifier.Forward(context.WithoutCancel(ctx), *result.Event)
	}
}

// RunExpire transitions orders already past expiry straight to EXPIRED in
// fixed-size batches, without a provider round-trip.
func (s *Scheduler) RunExpire(ctx context.Context) {
	log := logger.FromCtx(ctx).With(zap.String("sweep", "expire"))

	orders, err := s.orders.SelectOverdue(ctx, s.cfg.ExpireBatchSize)
	if err != nil {
		log.Error("failed to select overdue orders", zap.Error(err))
		return
	}
	if len(orders) == 0 {
		return
	}

	log.Info("fallback expire sweep started", zap.Int("orders", len(orders)))

	expired := 0
	for _, o := range orders {
		result, err := s.svc.Transition(ctx, o.PaymentID, order.StatusExpired, nil)
		if err != nil {
			log.Error("failed to expire order",
				zap.String("payment_id", o.PaymentID),
				zap.Error(err),
			)
			continue
		}

		if result.Applied {
			expired++
			if result.Event != nil {
				go s.notifier.Forward(context.WithoutCancel(ctx), *result.Event)
			}
		}
	}

	log.Info("fallback expire sweep finished", zap.Int("expired", expired))
}
