package callback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paylink-be/internal/client"
	"paylink-be/internal/order"
	"paylink-be/internal/shutdown"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOrderRepo struct {
	mock.Mock
}

func (m *MockOrderRepo) GetByPaymentID(ctx context.Context, paymentID string) (*order.Order, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderRepo) TransitionFromPending(ctx context.Context, paymentID string, to order.Status, providerResponse json.RawMessage, clearInstrument bool) (bool, error) {
	args := m.Called(ctx, paymentID, to, providerResponse, clearInstrument)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepo) SelectExpiring(ctx context.Context, within time.Duration, limit int) ([]*order.Order, error) {
	args := m.Called(ctx, within, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*order.Order), args.Error(1)
}

func (m *MockOrderRepo) SelectOverdue(ctx context.Context, limit int) ([]*order.Order, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*order.Order), args.Error(1)
}

func newHandlerMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /retry/callback/{id}", h.RetryByID)
	mux.HandleFunc("GET /callback/logs/{paymentId}", h.Logs)
	return mux
}

func TestHandler_RetryByID(t *testing.T) {
	t.Run("Delivered", func(t *testing.T) {
		clients := new(MockClientRepo)
		failed := new(MockFailedRepo)
		logs := new(MockLogRepo)
		tracker := shutdown.NewTracker()

		srv := httptest.NewServer(okNotifyHandler("client-01"))
		defer srv.Close()

		payload, _ := json.Marshal(testEvent())
		failed.On("GetByID", mock.Anything, uint(7)).Return(&FailedCallback{
			ID:         7,
			PaymentID:  "PL-abc123",
			ClientID:   "client-01",
			Payload:    payload,
			RetryCount: 3,
			Status:     FailedStatusPending,
		}, nil)
		clients.On("GetByClientID", mock.Anything, "client-01").
			Return(&client.Client{ClientID: "client-01", NotifyURL: srv.URL}, nil)
		logs.On("Insert", mock.Anything, mock.Anything).Return(nil)
		failed.On("MarkCompleted", mock.Anything, "PL-abc123").Return(nil)
		failed.On("Delete", mock.Anything, uint(7)).Return(nil)

		f := newTestForwarder(clients, failed, logs, tracker, t)
		h := NewHandler(f, clients, new(MockOrderRepo), logs)

		req := httptest.NewRequest(http.MethodPost, "/retry/callback/7", nil)
		rec := httptest.NewRecorder()
		newHandlerMux(h).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("StillFailingReturns202", func(t *testing.T) {
		clients := new(MockClientRepo)
		failed := new(MockFailedRepo)
		logs := new(MockLogRepo)
		tracker := shutdown.NewTracker()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusBadGateway)
		}))
		defer srv.Close()

		payload, _ := json.Marshal(testEvent())
		failed.On("GetByID", mock.Anything, uint(7)).Return(&FailedCallback{
			ID:         7,
			PaymentID:  "PL-abc123",
			ClientID:   "client-01",
			Payload:    payload,
			RetryCount: 6,
			Status:     FailedStatusPending,
		}, nil)
		clients.On("GetByClientID", mock.Anything, "client-01").
			Return(&client.Client{ClientID: "client-01", NotifyURL: srv.URL}, nil)
		logs.On("Insert", mock.Anything, mock.Anything).Return(nil)
		failed.On("Upsert", mock.Anything, mock.Anything).Return(nil)

		f := newTestForwarder(clients, failed, logs, tracker, t)
		h := NewHandler(f, clients, new(MockOrderRepo), logs)

		req := httptest.NewRequest(http.MethodPost, "/retry/callback/7", nil)
		rec := httptest.NewRecorder()
		newHandlerMux(h).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("NotFound", func(t *testing.T) {
		clients := new(MockClientRepo)
		failed := new(MockFailedRepo)
		logs := new(MockLogRepo)
		tracker := shutdown.NewTracker()

		failed.On("GetByID", mock.Anything, uint(404)).Return(nil, ErrCallbackNotFound)

		f := newTestForwarder(clients, failed, logs, tracker, t)
		h := NewHandler(f, clients, new(MockOrderRepo), logs)

		req := httptest.NewRequest(http.MethodPost, "/retry/callback/404", nil)
		rec := httptest.NewRecorder()
		newHandlerMux(h).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("InvalidID", func(t *testing.T) {
		f := newTestForwarder(new(MockClientRepo), new(MockFailedRepo), new(MockLogRepo), shutdown.NewTracker(), t)
		h := NewHandler(f, new(MockClientRepo), new(MockOrderRepo), new(MockLogRepo))

		req := httptest.NewRequest(http.MethodPost, "/retry/callback/abc", nil)
		rec := httptest.NewRecorder()
		newHandlerMux(h).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_ResponseBodies(t *testing.T) {
	clients := new(MockClientRepo)
	failed := new(MockFailedRepo)
	logs := new(MockLogRepo)
	tracker := shutdown.NewTracker()

	srv := httptest.NewServer(okNotifyHandler("client-01"))
	defer srv.Close()

	payload, _ := json.Marshal(testEvent())
	failed.On("GetByID", mock.Anything, uint(1)).Return(&FailedCallback{
		ID:         1,
		PaymentID:  "PL-abc123",
		ClientID:   "client-01",
		Payload:    payload,
		RetryCount: 1,
		NextRetryAt: func() *time.Time {
			t := time.Now().Add(15 * time.Second)
			return &t
		}(),
		Status: FailedStatusPending,
	}, nil)
	clients.On("GetByClientID", mock.Anything, "client-01").
		Return(&client.Client{ClientID: "client-01", NotifyURL: srv.URL}, nil)
	logs.On("Insert", mock.Anything, mock.Anything).Return(nil)
	failed.On("MarkCompleted", mock.Anything, "PL-abc123").Return(nil)
	failed.On("Delete", mock.Anything, uint(1)).Return(nil)

	f := newTestForwarder(clients, failed, logs, tracker, t)
	h := NewHandler(f, clients, new(MockOrderRepo), logs)

	req := httptest.NewRequest(http.MethodPost, "/retry/callback/1", nil)
	rec := httptest.NewRecorder()
	newHandlerMux(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "delivered", body["status"])
}

func TestHandler_Logs(t *testing.T) {
	logsRequest := func(paymentID, clientID, secret string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/callback/logs/"+paymentID, nil)
		req.Header.Set("X-CLIENT-ID", clientID)
		req.Header.Set("X-CLIENT-SECRET", secret)
		return req
	}

	newLogsHandler := func(clients *MockClientRepo, orders *MockOrderRepo, logs *MockLogRepo) *Handler {
		f := newTestForwarder(clients, new(MockFailedRepo), logs, shutdown.NewTracker(), t)
		return NewHandler(f, clients, orders, logs)
	}

	t.Run("ReturnsOwnDeliveryHistory", func(t *testing.T) {
		clients := new(MockClientRepo)
		orders := new(MockOrderRepo)
		logs := new(MockLogRepo)

		clients.On("Authenticate", mock.Anything, "client-01", "s3cret").
			Return(&client.Client{ClientID: "client-01", Active: true}, nil)
		orders.On("GetByPaymentID", mock.Anything, "PL-abc123").
			Return(&order.Order{PaymentID: "PL-abc123", ClientID: "client-01"}, nil)
		logs.On("ListByPaymentID", mock.Anything, "PL-abc123").
			Return([]*CallbackLog{
				{Direction: DirectionOutbound, PaymentID: "PL-abc123", Status: "FAILED", Error: "unexpected status 502"},
				{Direction: DirectionOutbound, PaymentID: "PL-abc123", Status: "DELIVERED"},
			}, nil)

		rec := httptest.NewRecorder()
		newHandlerMux(newLogsHandler(clients, orders, logs)).
			ServeHTTP(rec, logsRequest("PL-abc123", "client-01", "s3cret"))

		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			PaymentID string        `json:"paymentId"`
			Logs      []CallbackLog `json:"logs"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "PL-abc123", body.PaymentID)
		require.Len(t, body.Logs, 2)
		assert.Equal(t, "FAILED", body.Logs[0].Status)
		assert.Equal(t, "DELIVERED", body.Logs[1].Status)
	})

	t.Run("BadCredentialsRejected", func(t *testing.T) {
		clients := new(MockClientRepo)
		orders := new(MockOrderRepo)
		logs := new(MockLogRepo)

		clients.On("Authenticate", mock.Anything, "client-01", "wrong").
			Return(nil, client.ErrBadCredentials)

		rec := httptest.NewRecorder()
		newHandlerMux(newLogsHandler(clients, orders, logs)).
			ServeHTTP(rec, logsRequest("PL-abc123", "client-01", "wrong"))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		orders.AssertNotCalled(t, "GetByPaymentID", mock.Anything, mock.Anything)
	})

	t.Run("ForeignPaymentLooksUnknown", func(t *testing.T) {
		clients := new(MockClientRepo)
		orders := new(MockOrderRepo)
		logs := new(MockLogRepo)

		clients.On("Authenticate", mock.Anything, "client-02", "s3cret").
			Return(&client.Client{ClientID: "client-02", Active: true}, nil)
		orders.On("GetByPaymentID", mock.Anything, "PL-abc123").
			Return(&order.Order{PaymentID: "PL-abc123", ClientID: "client-01"}, nil)

		rec := httptest.NewRecorder()
		newHandlerMux(newLogsHandler(clients, orders, logs)).
			ServeHTTP(rec, logsRequest("PL-abc123", "client-02", "s3cret"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		logs.AssertNotCalled(t, "ListByPaymentID", mock.Anything, mock.Anything)
	})

	t.Run("UnknownPayment", func(t *testing.T) {
		clients := new(MockClientRepo)
		orders := new(MockOrderRepo)
		logs := new(MockLogRepo)

		clients.On("Authenticate", mock.Anything, "client-01", "s3cret").
			Return(&client.Client{ClientID: "client-01", Active: true}, nil)
		orders.On("GetByPaymentID", mock.Anything, "PL-missing").
			Return(nil, order.ErrOrderNotFound)

		rec := httptest.NewRecorder()
		newHandlerMux(newLogsHandler(clients, orders, logs)).
			ServeHTTP(rec, logsRequest("PL-missing", "client-01", "s3cret"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("ListFailure", func(t *testing.T) {
		clients := new(MockClientRepo)
		orders := new(MockOrderRepo)
		logs := new(MockLogRepo)

		clients.On("Authenticate", mock.Anything, "client-01", "s3cret").
			Return(&client.Client{ClientID: "client-01", Active: true}, nil)
		orders.On("GetByPaymentID", mock.Anything, "PL-abc123").
			Return(&order.Order{PaymentID: "PL-abc123", ClientID: "client-01"}, nil)
		logs.On("ListByPaymentID", mock.Anything, "PL-abc123").
			Return(nil, errors.New("database error"))

		rec := httptest.NewRecorder()
		newHandlerMux(newLogsHandler(clients, orders, logs)).
			ServeHTTP(rec, logsRequest("PL-abc123", "client-01", "s3cret"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
