package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paylink-be/internal/client"
	"paylink-be/internal/logger"
	"paylink-be/internal/order"
	"paylink-be/internal/shutdown"
	"paylink-be/internal/signature"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetrySchedule is the fixed delivery schedule in seconds: 7 attempts total,
// the i-th attempt after RetrySchedule[i] from the previous one.
var RetrySchedule = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	1800 * time.Second,
}

const requestTimeout = 10 * time.Second

// Forwarder delivers normalized events to the owning merchant's notify URL.
// Forward never returns an error for ordinary delivery failure; the result
// bool reports whether the event was delivered.
type Forwarder struct {
	clients   client.Repository
	failed    FailedRepository
	logs      LogRepository
	codec     *signature.Codec
	tracker   *shutdown.Tracker
	partnerID string

	httpClient *http.Client
	schedule   []time.Duration
	now        func() time.Time

	// sleep waits for d unless shutdown begins; returns false when
	// interrupted. Swappable in tests.
	sleep func(d time.Duration) bool
}

func NewForwarder(
	clients client.Repository,
	failed FailedRepository,
	logs LogRepository,
	codec *signature.Codec,
	tracker *shutdown.Tracker,
	partnerID string,
) *Forwarder {
	f := &Forwarder{
		clients:    clients,
		failed:     failed,
		logs:       logs,
		codec:      codec,
		tracker:    tracker,
		partnerID:  partnerID,
		httpClient: &http.Client{Timeout: requestTimeout},
		schedule:   RetrySchedule,
		now:        time.Now,
	}
	f.sleep = func(d time.Duration) bool {
		select {
		case <-tracker.Done():
			return false
		case <-time.After(d):
			return true
		}
	}
	return f
}

// Forward runs the full retry schedule for ev, holding a tracked task open
// for the duration. Returns true once the merchant acknowledged the event.
func (f *Forwarder) Forward(ctx context.Context, ev order.Event) bool {
	if !f.tracker.RegisterTask() {
		logger.FromCtx(ctx).Warn("forward refused, shutting down",
			zap.String("payment_id", ev.PaymentID),
		)
		return false
	}
	defer f.tracker.ReleaseTask()

	return f.deliver(ctx, ev, 0, false)
}

// RetryByID re-attempts a persisted failed callback, resuming the schedule
// from the stored retry count. The record is deleted on success and
// refreshed on another failure.
func (f *Forwarder) RetryByID(ctx context.Context, id uint) (bool, error) {
	fc, err := f.failed.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	var ev order.Event
	if err := json.Unmarshal(fc.Payload, &ev); err != nil {
		return false, fmt.Errorf("corrupt failed callback payload: %w", err)
	}

	if !f.tracker.RegisterTask() {
		return false, nil
	}
	defer f.tracker.ReleaseTask()

	if delivered := f.deliver(ctx, ev, fc.RetryCount, true); !delivered {
		return false, nil
	}

	if err := f.failed.Delete(ctx, id); err != nil {
		logger.FromCtx(ctx).Error("delivered but failed to delete retry record",
			zap.Uint("id", id), zap.Error(err),
		)
	}
	return true, nil
}

// ForwardOnce performs a single delivery attempt for the queue worker path,
// which keeps its retry counter in message metadata instead of sleeping
// through the fixed schedule. Failures still land in the same FailedCallback
// record as the scheduled path.
func (f *Forwarder) ForwardOnce(ctx context.Context, ev order.Event, retryCount int) error {
	log := logger.FromCtx(ctx).With(
		zap.String("component", "forwarder"),
		zap.String("payment_id", ev.PaymentID),
		zap.Int("retry_count", retryCount),
	)

	c, err := f.clients.GetByClientID(ctx, ev.ClientID)
	if err != nil {
		log.Error("cannot resolve forward target", zap.Error(err))
		f.persistFailure(ctx, ev, "", retryCount+1, nil)
		return err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	attemptErr := f.attempt(ctx, c, payload)
	f.audit(ctx, ev, c.NotifyURL, payload, attemptErr)

	if attemptErr != nil {
		log.Warn("queued callback attempt failed", zap.Error(attemptErr))
		f.persistFailure(ctx, ev, c.NotifyURL, retryCount+1, payload)
		return attemptErr
	}

	if retryCount > 0 {
		if err := f.failed.MarkCompleted(ctx, ev.PaymentID); err != nil {
			log.Error("failed to mark retry record completed", zap.Error(err))
		}
	}

	log.Info("queued callback delivered")
	return nil
}

// deliver walks the retry schedule from startAttempt. With immediate set the
// first attempt skips its scheduled wait; manual operator retries must not
// block an HTTP request behind a backoff that already elapsed in real time.
func (f *Forwarder) deliver(ctx context.Context, ev order.Event, startAttempt int, immediate bool) bool {
	log := logger.FromCtx(ctx).With(
		zap.String("component", "forwarder"),
		zap.String("payment_id", ev.PaymentID),
		zap.String("client_id", ev.ClientID),
	)

	c, err := f.clients.GetByClientID(ctx, ev.ClientID)
	if err != nil {
		log.Error("cannot resolve forward target", zap.Error(err))
		f.persistFailure(ctx, ev, "", startAttempt+1, nil)
		return false
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error("cannot marshal event", zap.Error(err))
		return false
	}

	// An exhausted record retried manually gets one immediate attempt.
	if startAttempt >= len(f.schedule) {
		startAttempt = len(f.schedule) - 1
	}

	for attempt := startAttempt; attempt < len(f.schedule); attempt++ {
		if f.tracker.ShuttingDown() {
			log.Warn("shutdown in progress, persisting retry state and aborting")
			f.persistFailure(ctx, ev, c.NotifyURL, attempt, payload)
			return false
		}

		if !immediate || attempt > startAttempt {
			if !f.sleep(f.schedule[attempt]) {
				f.persistFailure(ctx, ev, c.NotifyURL, attempt, payload)
				return false
			}
		}

		attemptErr := f.attempt(ctx, c, payload)
		f.audit(ctx, ev, c.NotifyURL, payload, attemptErr)

		if attemptErr == nil {
			log.Info("callback delivered", zap.Int("attempt", attempt+1))
			if attempt > startAttempt || startAttempt > 0 {
				if err := f.failed.MarkCompleted(ctx, ev.PaymentID); err != nil {
					log.Error("failed to mark retry record completed", zap.Error(err))
				}
			}
			return true
		}

		log.Warn("callback attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(attemptErr),
		)
		f.persistFailure(ctx, ev, c.NotifyURL, attempt+1, payload)
	}

	// Exhausted. The record stays retryable by an operator.
	log.Error("callback retries exhausted, manual retry required",
		zap.String("alert", "callback_exhausted"),
		zap.Int("attempts", len(f.schedule)),
	)
	return false
}

// attempt performs one signed POST and validates the merchant's response.
// Any violation of the response contract counts as a failed attempt, even
// with an HTTP 200.
func (f *Forwarder) attempt(ctx context.Context, c *client.Client, payload []byte) error {
	target, err := url.Parse(c.NotifyURL)
	if err != nil {
		return fmt.Errorf("invalid notify url: %w", err)
	}

	ts := signature.Timestamp(f.now())
	sig, err := f.codec.Sign(http.MethodPost, target.Path, payload, ts)
	if err != nil {
		return fmt.Errorf("sign payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.NotifyURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json;charset=utf-8")
	req.Header.Set("X-TIMESTAMP", ts)
	req.Header.Set("X-SIGNATURE", sig)
	req.Header.Set("X-PARTNER-ID", f.partnerID)
	req.Header.Set("X-REQUEST-ID", uuid.New().String())

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return validateNotifyResponse(resp, body, c.ClientID)
}

func validateNotifyResponse(resp *http.Response, body []byte, clientID string) error {
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" ||
		!strings.EqualFold(params["charset"], "utf-8") {
		return fmt.Errorf("invalid content-type %q", resp.Header.Get("Content-Type"))
	}

	for _, h := range []string{"X-TIMESTAMP", "X-SIGNATURE", "X-REQUEST-ID"} {
		if resp.Header.Get(h) == "" {
			return fmt.Errorf("missing response header %s", h)
		}
	}

	var nr NotifyResponse
	if err := json.Unmarshal(body, &nr); err != nil {
		return fmt.Errorf("malformed response body: %w", err)
	}

	if nr.ClientID != clientID {
		return fmt.Errorf("unrecognized clientId %q", nr.ClientID)
	}
	if nr.RequestID == "" {
		return fmt.Errorf("missing requestId in response")
	}
	if nr.ErrCode != "0" {
		return fmt.Errorf("merchant returned errCode %q: %s", nr.ErrCode, nr.ErrCodeDes)
	}

	return nil
}

func (f *Forwarder) persistFailure(ctx context.Context, ev order.Event, notifyURL string, retryCount int, payload []byte) {
	if payload == nil {
		payload, _ = json.Marshal(ev)
	}

	var next *time.Time
	if retryCount < len(f.schedule) {
		t := f.now().Add(f.schedule[retryCount])
		next = &t
	}

	fc := &FailedCallback{
		PaymentID:   ev.PaymentID,
		ClientID:    ev.ClientID,
		CallbackURL: notifyURL,
		Payload:     payload,
		RetryCount:  retryCount,
		NextRetryAt: next,
		Status:      FailedStatusPending,
	}

	if err := f.failed.Upsert(ctx, fc); err != nil {
		logger.FromCtx(ctx).Error("failed to persist retry record",
			zap.String("payment_id", ev.PaymentID),
			zap.Error(err),
		)
	}
}

func (f *Forwarder) audit(ctx context.Context, ev order.Event, target string, payload []byte, attemptErr error) {
	l := &CallbackLog{
		Direction: DirectionOutbound,
		PaymentID: ev.PaymentID,
		Target:    target,
		Status:    "DELIVERED",
		Payload:   payload,
	}
	if attemptErr != nil {
		l.Status = "FAILED"
		l.Error = attemptErr.Error()
	}

	if err := f.logs.Insert(ctx, l); err != nil {
		logger.FromCtx(ctx).Error("failed to write callback audit log",
			zap.String("payment_id", ev.PaymentID),
			zap.Error(err),
		)
	}
}
