package spgsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal payment gateway HTTP API client.
type Client struct {
	BaseURL     string
	ActorID     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 15 * time.Second,
	}
}

// Agent represents the API agent model.
type Agent struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	WalletAddress  string `json:"wallet_address"`
	Description    string `json:"description,omitempty"`
	EarnedLamports int64  `json:"earned_lamports"`
	CreatedAt      string `json:"created_at"`
}

// Service represents a priced offering.
type Service struct {
	ID             string `json:"id"`
	AgentID        string `json:"agent_id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	PayToAddress   string `json:"pay_to_address"`
	PriceLamports  int64  `json:"price_lamports"`
	Asset          string `json:"asset"`
	CompletedTasks int64  `json:"completed_tasks"`
	CreatedAt      string `json:"created_at"`
}

// Payment represents a payment record.
type Payment struct {
	ID             string  `json:"id"`
	ServiceID      string  `json:"service_id"`
	PayerID        string  `json:"payer_id"`
	PayerAddress   string  `json:"payer_address"`
	PayeeID        string  `json:"payee_id"`
	PayToAddress   string  `json:"pay_to_address"`
	AmountLamports int64   `json:"amount_lamports"`
	Asset          string  `json:"asset"`
	Status         string  `json:"status"`
	TxSignature    *string `json:"tx_signature,omitempty"`
	VerifiedSlot   *int64  `json:"verified_slot,omitempty"`
	VerifiedAt     *string `json:"verified_at,omitempty"`
	ExecutedTaskID *string `json:"executed_task_id,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// Instructions tell the payer what to send on chain.
type Instructions struct {
	PaymentID      string `json:"payment_id"`
	PayTo          string `json:"pay_to"`
	AmountLamports int64  `json:"amount_lamports"`
	AmountSOL      string `json:"amount_sol"`
	Asset          string `json:"asset"`
	Network        string `json:"network"`
	Reference      string `json:"reference"`
}

// InitiateResult pairs the opened payment with its instructions.
type InitiateResult struct {
	Payment      Payment      `json:"payment"`
	Instructions Instructions `json:"instructions"`
}

// VerifyResult reports a verification outcome. Failure outcomes arrive as
// 200 responses; only a transient oracle failure surfaces as an APIError.
type VerifyResult struct {
	Outcome string  `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
	Payment Payment `json:"payment"`
}

// Task represents an admitted execution.
type Task struct {
	ID            string  `json:"id"`
	PaymentID     string  `json:"payment_id"`
	ServiceID     string  `json:"service_id"`
	Status        string  `json:"status"`
	InputJSON     string  `json:"input_json"`
	OutputJSON    *string `json:"output_json,omitempty"`
	AbandonReason *string `json:"abandon_reason,omitempty"`
	CreatedAt     string  `json:"created_at"`
	CompletedAt   *string `json:"completed_at,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaymentRequired reports whether the error is the execution gate's 402.
func (e *APIError) PaymentRequired() bool {
	return e.StatusCode == http.StatusPaymentRequired
}

// RegisterAgent registers an agent.
func (c *Client) RegisterAgent(ctx context.Context, name, walletAddress string) (Agent, error) {
	body := map[string]any{
		"name":           name,
		"wallet_address": walletAddress,
	}
	var resp Agent
	err := c.do(ctx, http.MethodPost, "v0/agents", body, &resp)
	return resp, err
}

// CreateService lists a priced service for an agent.
func (c *Client) CreateService(ctx context.Context, agentID, name string, priceLamports int64) (Service, error) {
	body := map[string]any{
		"agent_id":       agentID,
		"name":           name,
		"price_lamports": priceLamports,
	}
	var resp Service
	err := c.do(ctx, http.MethodPost, "v0/services", body, &resp)
	return resp, err
}

// InitiatePayment opens a payment for a service.
func (c *Client) InitiatePayment(ctx context.Context, serviceID, payerID string) (InitiateResult, error) {
	body := map[string]any{
		"service_id": serviceID,
		"payer_id":   payerID,
	}
	var resp InitiateResult
	err := c.do(ctx, http.MethodPost, "v0/payments", body, &resp)
	return resp, err
}

// VerifyPayment submits a claimed transaction signature for verification.
func (c *Client) VerifyPayment(ctx context.Context, paymentID, txSignature string) (VerifyResult, error) {
	body := map[string]any{"tx_signature": txSignature}
	var resp VerifyResult
	endpoint := fmt.Sprintf("v0/payments/%s/verify", url.PathEscape(paymentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Execute requests execution of the paid service. The gate refuses with a
// 402 APIError unless the payment is verified and unconsumed.
func (c *Client) Execute(ctx context.Context, paymentID string, input json.RawMessage) (Task, error) {
	body := map[string]any{}
	if len(input) > 0 {
		body["input"] = input
	}
	var resp Task
	endpoint := fmt.Sprintf("v0/payments/%s/execute", url.PathEscape(paymentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// GetPayment fetches a payment by id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	var resp Payment
	endpoint := fmt.Sprintf("v0/payments/%s", url.PathEscape(paymentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTask polls a task by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// WaitTask polls a task until it leaves the processing status or the
// context expires.
func (c *Client) WaitTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		t, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if t.Status != "processing" {
			return t, nil
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return t, ctx.Err()
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
