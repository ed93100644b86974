package callback

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"paylink-be/internal/client"
	"paylink-be/internal/logger"
	"paylink-be/internal/order"

	"go.uber.org/zap"
)

// Handler exposes the operator retry surface and the merchant-facing
// delivery log lookup.
type Handler struct {
	forwarder *Forwarder
	clients   client.Repository
	orders    order.Repository
	logs      LogRepository
}

func NewHandler(forwarder *Forwarder, clients client.Repository, orders order.Repository, logs LogRepository) *Handler {
	return &Handler{
		forwarder: forwarder,
		clients:   clients,
		orders:    orders,
		logs:      logs,
	}
}

// RetryByID handles POST /retry/callback/{id}: 200 when the event was
// delivered, 202 when it is still failing and remains scheduled.
func (h *Handler) RetryByID(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid callback id"})
		return
	}

	log := logger.FromCtx(r.Context()).With(zap.Uint64("callback_id", id))

	delivered, err := h.forwarder.RetryByID(r.Context(), uint(id))
	if err != nil {
		if errors.Is(err, ErrCallbackNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "callback not found"})
			return
		}
		log.Error("manual retry failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "retry failed"})
		return
	}

	if !delivered {
		log.Info("manual retry still failing, rescheduled")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "retry scheduled"})
		return
	}

	log.Info("manual retry delivered")
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

// Logs handles GET /callback/logs/{paymentId}: a merchant inspects the
// delivery history for one of its own payments, authenticating with its
// client id and secret.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymentID := r.PathValue("paymentId")

	c, err := h.clients.Authenticate(ctx, r.Header.Get("X-CLIENT-ID"), r.Header.Get("X-CLIENT-SECRET"))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid client credentials"})
		return
	}

	o, err := h.orders.GetByPaymentID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "payment not found"})
			return
		}
		logger.FromCtx(ctx).Error("delivery log lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}

	// A foreign payment id is indistinguishable from an unknown one.
	if o.ClientID != c.ClientID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "payment not found"})
		return
	}

	entries, err := h.logs.ListByPaymentID(ctx, paymentID)
	if err != nil {
		logger.FromCtx(ctx).Error("delivery log lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"paymentId": paymentID,
		"logs":      entries,
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
