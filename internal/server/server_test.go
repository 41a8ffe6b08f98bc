package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/fl-sean03/solana-agent-payment-gateway/internal/backend"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/config"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/db"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/domain"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/engine"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/ledger"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/migrate"
)

const (
	testPayerWallet = "11111111111111111111111111111111"
	testPayeeWallet = "So11111111111111111111111111111111111111112"
)

type scriptedOracle struct {
	records map[string]*ledger.TransactionRecord
	errs    map[string]error
}

func (o *scriptedOracle) FetchTransaction(_ context.Context, signature string) (*ledger.TransactionRecord, error) {
	if err, ok := o.errs[signature]; ok {
		return nil, err
	}
	if rec, ok := o.records[signature]; ok {
		return rec, nil
	}
	return nil, ledger.ErrTxNotFound
}

type testServer struct {
	URL    string
	Oracle *scriptedOracle
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	oracle := &scriptedOracle{
		records: map[string]*ledger.TransactionRecord{},
		errs:    map[string]error{},
	}
	e := engine.New(conn, config.Default(), oracle, backend.Local{})
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Oracle: oracle,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// seedMarketplace registers both agents and a priced service over the API and
// returns their ids.
func seedMarketplace(t *testing.T, srv *testServer) (payeeID, payerID, serviceID string) {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/agents", map[string]any{
		"name":           "seller",
		"wallet_address": testPayeeWallet,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register seller: %d %s", res.StatusCode, string(data))
	}
	var payee domain.Agent
	_ = json.Unmarshal(data, &payee)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/agents", map[string]any{
		"name":           "buyer",
		"wallet_address": testPayerWallet,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register buyer: %d %s", res.StatusCode, string(data))
	}
	var payer domain.Agent
	_ = json.Unmarshal(data, &payer)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/services", map[string]any{
		"agent_id":       payee.ID,
		"name":           "summarize",
		"price_lamports": 1_000_000,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create service: %d %s", res.StatusCode, string(data))
	}
	var svc domain.Service
	_ = json.Unmarshal(data, &svc)
	return payee.ID, payer.ID, svc.ID
}

func initiatePayment(t *testing.T, srv *testServer, serviceID, payerID string) domain.Payment {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/payments", map[string]any{
		"service_id": serviceID,
		"payer_id":   payerID,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("initiate payment: %d %s", res.StatusCode, string(data))
	}
	var body struct {
		Payment      domain.Payment      `json:"payment"`
		Instructions domain.Instructions `json:"instructions"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal initiate response: %v", err)
	}
	if body.Instructions.PayTo != testPayeeWallet {
		t.Fatalf("instructions point at %s", body.Instructions.PayTo)
	}
	return body.Payment
}

func paidRecord(sig string, lamports int64) *ledger.TransactionRecord {
	return &ledger.TransactionRecord{
		Signature:    sig,
		Succeeded:    true,
		Accounts:     []string{testPayerWallet, testPayeeWallet},
		PreBalances:  []int64{9_000_000, 0},
		PostBalances: []int64{9_000_000 - lamports, lamports},
		Slot:         77,
	}
}

func TestPayVerifyExecuteFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, payerID, serviceID := seedMarketplace(t, srv)
	payment := initiatePayment(t, srv, serviceID, payerID)

	// The gate refuses before verification.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/payments/"+payment.ID+"/execute", map[string]any{})
	if res.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402 before verification, got %d %s", res.StatusCode, string(data))
	}
	var apiErr struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &apiErr)
	if apiErr.Error.Code != "payment_not_verified" {
		t.Fatalf("expected payment_not_verified, got %q", apiErr.Error.Code)
	}

	srv.Oracle.records["sig-flow"] = paidRecord("sig-flow", 1_000_000)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/payments/"+payment.ID+"/verify", map[string]any{
		"tx_signature": "sig-flow",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify: %d %s", res.StatusCode, string(data))
	}
	var verify struct {
		Outcome string         `json:"outcome"`
		Payment domain.Payment `json:"payment"`
	}
	_ = json.Unmarshal(data, &verify)
	if verify.Outcome != "verified" {
		t.Fatalf("expected verified, got %s", verify.Outcome)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/payments/"+payment.ID+"/execute", map[string]any{
		"input": map[string]any{"text": "hello"},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("execute: %d %s", res.StatusCode, string(data))
	}
	var task domain.Task
	_ = json.Unmarshal(data, &task)
	if task.Status != domain.TaskProcessing {
		t.Fatalf("expected processing, got %s", task.Status)
	}

	// Poll until the local backend settles the task.
	deadline := time.Now().Add(5 * time.Second)
	for {
		res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("poll task: %d %s", res.StatusCode, string(data))
		}
		_ = json.Unmarshal(data, &task)
		if task.Status != domain.TaskProcessing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never settled")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if task.Status != domain.TaskCompleted {
		t.Fatalf("expected completed, got %s", task.Status)
	}

	// A verified payment buys exactly one execution.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/payments/"+payment.ID+"/execute", map[string]any{})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second execute, got %d %s", res.StatusCode, string(data))
	}
}

func TestVerifyFailureOutcomesAreOK(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, payerID, serviceID := seedMarketplace(t, srv)
	payment := initiatePayment(t, srv, serviceID, payerID)

	// Unknown signature: the answer is not_found_on_chain, not an error.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/payments/"+payment.ID+"/verify", map[string]any{
		"tx_signature": "sig-missing",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for not found, got %d %s", res.StatusCode, string(data))
	}
	var verify struct {
		Outcome string `json:"outcome"`
	}
	_ = json.Unmarshal(data, &verify)
	if verify.Outcome != "not_found_on_chain" {
		t.Fatalf("expected not_found_on_chain, got %s", verify.Outcome)
	}

	// Missing signature is the caller's mistake.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/payments/"+payment.ID+"/verify", map[string]any{})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without signature, got %d %s", res.StatusCode, string(data))
	}

	// Unknown payment id.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/payments/nope/verify", map[string]any{
		"tx_signature": "sig-any",
	})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown payment, got %d %s", res.StatusCode, string(data))
	}
}

func TestVerificationErrorReturns500(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, payerID, serviceID := seedMarketplace(t, srv)
	payment := initiatePayment(t, srv, serviceID, payerID)

	srv.Oracle.errs["sig-down"] = fmt.Errorf("%w: rpc status 503", ledger.ErrTransient)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/payments/"+payment.ID+"/verify", map[string]any{
		"tx_signature": "sig-down",
	})
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 for oracle outage, got %d %s", res.StatusCode, string(data))
	}
	var apiErr struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &apiErr)
	if apiErr.Error.Code != "verification_error" {
		t.Fatalf("expected verification_error, got %q", apiErr.Error.Code)
	}

	// The payment stays re-verifiable.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/payments/"+payment.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get payment: %d %s", res.StatusCode, string(data))
	}
	var p domain.Payment
	_ = json.Unmarshal(data, &p)
	if p.Status != domain.PaymentError {
		t.Fatalf("expected error status, got %s", p.Status)
	}
}

func TestEventsAndStatsEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, payerID, serviceID := seedMarketplace(t, srv)
	payment := initiatePayment(t, srv, serviceID, payerID)
	srv.Oracle.records["sig-ev"] = paidRecord("sig-ev", 1_000_000)
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/payments/"+payment.ID+"/verify", map[string]any{
		"tx_signature": "sig-ev",
	}); res.StatusCode != http.StatusOK {
		t.Fatalf("verify: %d %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/stats", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d %s", res.StatusCode, string(data))
	}
	var stats domain.Stats
	_ = json.Unmarshal(data, &stats)
	if stats.VerifiedPayments != 1 {
		t.Fatalf("expected 1 verified payment, got %d", stats.VerifiedPayments)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?entity_kind=payment&entity_id="+payment.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var events []domain.Event
	_ = json.Unmarshal(data, &events)
	if len(events) < 2 {
		t.Fatalf("expected initiation and verification events, got %d", len(events))
	}
}
