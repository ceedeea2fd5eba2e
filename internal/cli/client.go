package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// SpecialistResponse — специалист из API.
type SpecialistResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Phone          string `json:"phone,omitempty"`
	Specialty      string `json:"specialty,omitempty"`
	Clinic         string `json:"clinic,omitempty"`
	Verified       bool   `json:"verified"`
	LastVerifiedAt string `json:"last_verified_at,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// CallResponse — звонок из API.
type CallResponse struct {
	ID            string `json:"id"`
	SpecialistID  string `json:"specialist_id"`
	Direction     string `json:"direction"`
	Status        string `json:"status"`
	RetryCount    int    `json:"retry_count"`
	SessionID     string `json:"session_id,omitempty"`
	Transcript    string `json:"transcript,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	StartedAt     string `json:"started_at,omitempty"`
	EndedAt       string `json:"ended_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// QueueStatsResponse — сводка очереди из API.
type QueueStatsResponse struct {
	QueueDepth  int64 `json:"queue_depth"`
	ActiveCalls int64 `json:"active_calls"`
}

// --- Request types ---

// CreateSpecialistRequest — создание специалиста.
type CreateSpecialistRequest struct {
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Specialty string `json:"specialty,omitempty"`
	Clinic    string `json:"clinic,omitempty"`
}

// UpdateSpecialistRequest — обновление специалиста.
type UpdateSpecialistRequest struct {
	Name      *string `json:"name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Specialty *string `json:"specialty,omitempty"`
	Clinic    *string `json:"clinic,omitempty"`
}

// ScheduleCallRequest — постановка звонка.
type ScheduleCallRequest struct {
	SpecialistID string            `json:"specialist_id"`
	Priority     float64           `json:"priority,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CallEventRequest — сигнал завершения или провала звонка.
type CallEventRequest struct {
	CallID     string `json:"call_id"`
	Transcript string `json:"transcript,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ListCallsOpts — параметры фильтрации звонков.
type ListCallsOpts struct {
	Status string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Verista API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Specialists ---

// ListSpecialists возвращает специалистов.
func (c *Client) ListSpecialists(limit int) ([]SpecialistResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var specialists []SpecialistResponse
	err := c.list("/api/v1/specialists", params, &specialists)
	return specialists, err
}

// CreateSpecialist создаёт нового специалиста.
func (c *Client) CreateSpecialist(req CreateSpecialistRequest) (*SpecialistResponse, error) {
	var sp SpecialistResponse
	err := c.post("/api/v1/specialists", req, &sp)
	return &sp, err
}

// GetSpecialist возвращает специалиста по ID.
func (c *Client) GetSpecialist(id string) (*SpecialistResponse, error) {
	var sp SpecialistResponse
	err := c.get("/api/v1/specialists/"+id, &sp)
	return &sp, err
}

// UpdateSpecialist обновляет специалиста.
func (c *Client) UpdateSpecialist(id string, req UpdateSpecialistRequest) (*SpecialistResponse, error) {
	var sp SpecialistResponse
	err := c.put("/api/v1/specialists/"+id, req, &sp)
	return &sp, err
}

// --- Calls ---

// ListCalls возвращает звонки с фильтрацией.
func (c *Client) ListCalls(opts ListCallsOpts) ([]CallResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var calls []CallResponse
	err := c.list("/api/v1/calls", params, &calls)
	return calls, err
}

// ScheduleCall ставит верификационный звонок в очередь.
func (c *Client) ScheduleCall(req ScheduleCallRequest) (*CallResponse, error) {
	var call CallResponse
	err := c.post("/api/v1/calls", req, &call)
	return &call, err
}

// GetCall возвращает звонок по ID.
func (c *Client) GetCall(id string) (*CallResponse, error) {
	var call CallResponse
	err := c.get("/api/v1/calls/"+id, &call)
	return &call, err
}

// CompleteCall отправляет сигнал об успешном завершении звонка.
func (c *Client) CompleteCall(callID, transcript string) error {
	body := CallEventRequest{CallID: callID, Transcript: transcript}
	return c.post("/api/v1/events/call-completed", body, nil)
}

// FailCall отправляет сигнал о провале звонка.
func (c *Client) FailCall(callID, reason string) error {
	body := CallEventRequest{CallID: callID, Reason: reason}
	return c.post("/api/v1/events/call-failed", body, nil)
}

// --- Queue ---

// QueueStats возвращает сводку очереди.
func (c *Client) QueueStats() (*QueueStatsResponse, error) {
	var stats QueueStatsResponse
	err := c.get("/api/v1/queue/stats", &stats)
	return &stats, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
