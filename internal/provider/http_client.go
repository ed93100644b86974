package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"context"
	"paylink-be/internal/logger"
	"paylink-be/internal/signature"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const statusPath = "/v1/payments/status"

type httpClient struct {
	baseURL    string
	partnerID  string
	codec      *signature.Codec
	httpClient *http.Client
}

// NewHTTPClient builds the provider status client used by reconciliation.
// Each call carries its own timeout so a slow provider cannot stall a sweep.
func NewHTTPClient(baseURL, partnerID string, codec *signature.Codec, timeout time.Duration) StatusClient {
	if baseURL == "" {
		logger.L().Warn("provider base URL is empty")
	}

	return &httpClient{
		baseURL:   baseURL,
		partnerID: partnerID,
		codec:     codec,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type statusRequest struct {
	PaymentID string `json:"paymentId"`
}

type statusResponse struct {
	ResponseCode    string `json:"responseCode"`
	ResponseMessage string `json:"responseMessage,omitempty"`
	PaymentID       string `json:"paymentId"`
	Status          string `json:"transactionStatus"`
}

func (p *httpClient) GetStatus(ctx context.Context, paymentID string) (*StatusResult, error) {
	log := logger.FromCtx(ctx).With(zap.String("payment_id", paymentID))

	body, err := json.Marshal(statusRequest{PaymentID: paymentID})
	if err != nil {
		return nil, err
	}

	ts := signature.Timestamp(time.Now())
	sig, err := p.codec.Sign(http.MethodPost, statusPath, body, ts)
	if err != nil {
		log.Error("failed to sign status request", zap.Error(err))
		return nil, err
	}

	target, err := url.JoinPath(p.baseURL, statusPath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		log.Error("failed building request", zap.Error(err))
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-TIMESTAMP", ts)
	req.Header.Set("X-SIGNATURE", sig)
	req.Header.Set("X-PARTNER-ID", p.partnerID)
	req.Header.Set("X-REQUEST-ID", uuid.New().String())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Error("provider status request failed", zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error("provider returned non-success status",
			zap.Int("http_status", resp.StatusCode),
			zap.ByteString("response", bodyBytes),
		)
		return nil, fmt.Errorf("provider error: %s", string(bodyBytes))
	}

	var sr statusResponse
	if err := json.Unmarshal(bodyBytes, &sr); err != nil {
		log.Error("failed decoding provider response", zap.Error(err))
		return nil, err
	}

	result := &StatusResult{
		PaymentID: paymentID,
		RawStatus: sr.Status,
		Raw:       json.RawMessage(bodyBytes),
	}

	// An explicit non-zero response code is a terminal rejection from the
	// provider, not a transport failure.
	if sr.ResponseCode != "" && sr.ResponseCode != "00" {
		log.Warn("provider rejected status query",
			zap.String("response_code", sr.ResponseCode),
			zap.String("message", sr.ResponseMessage),
		)
		result.RawStatus = sr.ResponseCode
		result.Status = StatusFailed
		return result, nil
	}

	result.Status = Normalize(sr.Status)
	return result, nil
}
