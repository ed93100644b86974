package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"paylink-be/internal/callback"
	"paylink-be/internal/client"
	"paylink-be/internal/logger"
	"paylink-be/internal/order"
	"paylink-be/internal/signature"

	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

// Envelope is the signed response body returned to the provider for every
// inbound notification, success or rejection.
type Envelope struct {
	MerchantID string `json:"merchantId"`
	RequestID  string `json:"requestId"`
	ErrCode    string `json:"errCode"`
	ErrCodeDes string `json:"errCodeDes,omitempty"`
}

// Response error codes. "0" is the only success value; the rest mirror the
// HTTP status so providers can classify rejections without parsing prose.
const (
	codeOK           = "0"
	codeBadRequest   = "4000000"
	codeUnauthorized = "4010000"
	codeNotFound     = "4040000"
	codeInternal     = "5000000"
)

// notifyPayload is the subset of the provider event the transition needs; the
// full raw body is preserved separately for audit.
type notifyPayload struct {
	PaymentID  string `json:"paymentId"`
	StatusCode string `json:"statusCode"`
	Amount     int64  `json:"amount"`
}

// Forwarder delivers an applied event to the owning merchant. Satisfied by
// callback.Forwarder.
type Forwarder interface {
	Forward(ctx context.Context, ev order.Event) bool
}

// Handler terminates inbound provider notifications: partner auth, signature
// verification, state transition, then asynchronous merchant forwarding.
type Handler struct {
	partners   client.Repository
	codec      *signature.Codec
	orders     order.Service
	forwarder  Forwarder
	logs       callback.LogRepository
	merchantID string
	now        func() time.Time
}

func NewHandler(
	partners client.Repository,
	codec *signature.Codec,
	orders order.Service,
	forwarder Forwarder,
	logs callback.LogRepository,
	merchantID string,
) *Handler {
	return &Handler{
		partners:   partners,
		codec:      codec,
		orders:     orders,
		forwarder:  forwarder,
		logs:       logs,
		merchantID: merchantID,
		now:        time.Now,
	}
}

// Routes registers one notification endpoint per payment instrument.
func (h *Handler) Routes(mux *http.ServeMux) {
	for _, path := range []string{
		"/webhook/qris",
		"/webhook/va",
		"/webhook/vasnap",
		"/webhook/card",
		"/webhook/emoney",
	} {
		mux.HandleFunc("POST "+path, h.Notify)
	}
}

// Notify handles one provider notification. Duplicate deliveries for an
// already-terminal order return the success envelope with no new side effect.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := r.Header.Get("X-REQUEST-ID")
	log := logger.FromCtx(ctx).With(zap.String("path", r.URL.Path))

	timestamp := r.Header.Get("X-TIMESTAMP")
	sig := r.Header.Get("X-SIGNATURE")
	partnerID := r.Header.Get("X-PARTNER-ID")
	if timestamp == "" || sig == "" || partnerID == "" || requestID == "" {
		h.respond(w, r, http.StatusBadRequest, codeBadRequest, "missing required headers", requestID)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.respond(w, r, http.StatusBadRequest, codeBadRequest, "unreadable body", requestID)
		return
	}
	defer r.Body.Close()

	partner, err := h.partners.GetByClientID(ctx, partnerID)
	if err != nil || !partner.Active {
		log.Warn("webhook from unknown or inactive partner",
			zap.String("partner_id", partnerID),
		)
		h.audit(ctx, "", partnerID, body, "REJECTED", "unknown partner")
		h.respond(w, r, http.StatusUnauthorized, codeUnauthorized, "unknown partner", requestID)
		return
	}

	if err := h.codec.Verify(http.MethodPost, r.URL.Path, body, timestamp, sig); err != nil {
		// Always rejected and always logged; a broken signature may be an
		// attack or a canonicalization drift, either needs eyes.
		log.Warn("webhook signature rejected",
			zap.String("partner_id", partnerID),
			zap.Error(err),
		)
		h.audit(ctx, "", partnerID, body, "REJECTED", "invalid signature")
		h.respond(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid signature", requestID)
		return
	}

	var payload notifyPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.PaymentID == "" {
		h.audit(ctx, payload.PaymentID, partnerID, body, "REJECTED", "malformed payload")
		h.respond(w, r, http.StatusBadRequest, codeBadRequest, "malformed payload", requestID)
		return
	}

	log = log.With(zap.String("payment_id", payload.PaymentID))

	res, err := h.orders.Apply(ctx, order.ProviderEvent{
		PaymentID:  payload.PaymentID,
		StatusCode: payload.StatusCode,
		Amount:     payload.Amount,
		Raw:        body,
	})
	if err != nil {
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			h.audit(ctx, payload.PaymentID, partnerID, body, "REJECTED", "unknown order")
			h.respond(w, r, http.StatusNotFound, codeNotFound, "unknown order", requestID)
		case errors.Is(err, order.ErrUnhandledStatus):
			log.Warn("unhandled provider status code",
				zap.String("status_code", payload.StatusCode),
			)
			h.audit(ctx, payload.PaymentID, partnerID, body, "REJECTED", "unhandled status code")
			h.respond(w, r, http.StatusBadRequest, codeBadRequest, "unhandled status code", requestID)
		default:
			// Transient. A 5xx makes the provider redeliver, which is safe
			// because the transition is idempotent.
			log.Error("transition failed", zap.Error(err))
			h.audit(ctx, payload.PaymentID, partnerID, body, "FAILED", err.Error())
			h.respond(w, r, http.StatusInternalServerError, codeInternal, "temporary failure", requestID)
		}
		return
	}

	h.audit(ctx, payload.PaymentID, partnerID, body, "ACCEPTED", "")

	if res.Applied {
		// Forwarding outlives this request; the forwarder registers itself
		// with the shutdown tracker.
		go h.forwarder.Forward(context.WithoutCancel(ctx), *res.Event)
		log.Info("webhook applied", zap.String("status", string(res.Event.Status)))
	} else {
		log.Info("duplicate webhook, no side effect")
	}

	h.respond(w, r, http.StatusOK, codeOK, "", requestID)
}

// respond writes the signed envelope. The response carries the same header
// shape the inbound request does.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, errCode, errCodeDes, requestID string) {
	env := Envelope{
		MerchantID: h.merchantID,
		RequestID:  requestID,
		ErrCode:    errCode,
		ErrCodeDes: errCodeDes,
	}

	body, err := json.Marshal(env)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	ts := signature.Timestamp(h.now())
	w.Header().Set("Content-Type", "application/json;charset=utf-8")
	w.Header().Set("X-TIMESTAMP", ts)
	w.Header().Set("X-PARTNER-ID", h.merchantID)
	if requestID != "" {
		w.Header().Set("X-REQUEST-ID", requestID)
	}

	if sig, err := h.codec.Sign(http.MethodPost, r.URL.Path, body, ts); err == nil {
		w.Header().Set("X-SIGNATURE", sig)
	} else {
		logger.FromCtx(r.Context()).Error("cannot sign response envelope", zap.Error(err))
	}

	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *Handler) audit(ctx context.Context, paymentID, partnerID string, payload []byte, status, errMsg string) {
	l := &callback.CallbackLog{
		Direction: callback.DirectionInbound,
		PaymentID: paymentID,
		Target:    partnerID,
		Status:    status,
		Payload:   payload,
		Error:     errMsg,
	}

	if err := h.logs.Insert(ctx, l); err != nil {
		logger.FromCtx(ctx).Error("failed to write webhook audit log",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
	}
}
