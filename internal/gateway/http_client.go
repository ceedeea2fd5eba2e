package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultRequestTimeout = 15 * time.Second

// HTTPClient — Dialer поверх REST API голосового шлюза.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient создаёт клиента шлюза.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

// createSessionRequest — тело запроса создания сессии.
type createSessionRequest struct {
	SessionID string `json:"session_id"`

	// EmptyTimeoutSec — шлюз закрывает сессию, если нога так и не
	// подключилась.
	EmptyTimeoutSec int               `json:"empty_timeout_sec"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// CreateSession создаёт голосовую сессию.
func (c *HTTPClient) CreateSession(ctx context.Context, sessionID string, metadata map[string]string) error {
	body := createSessionRequest{
		SessionID:       sessionID,
		EmptyTimeoutSec: 600,
		Metadata:        metadata,
	}
	if err := c.post(ctx, "/v1/sessions", body); err != nil {
		return fmt.Errorf("create session %s: %w", sessionID, err)
	}
	return nil
}

// PlaceOutboundLeg набирает номер и подключает ногу к сессии.
func (c *HTTPClient) PlaceOutboundLeg(ctx context.Context, req LegRequest) error {
	if err := c.post(ctx, "/v1/sip/legs", req); err != nil {
		return fmt.Errorf("place outbound leg %s: %w", req.SessionID, err)
	}
	return nil
}

// post выполняет POST с JSON-телом. Любой не-2xx ответ и любая
// транспортная ошибка сворачиваются в ErrDispatchFailed.
func (c *HTTPClient) post(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("%w: HTTP %d: %s", ErrDispatchFailed, resp.StatusCode, detail)
	}
	return nil
}
