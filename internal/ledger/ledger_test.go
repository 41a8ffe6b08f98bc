package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidAddress(t *testing.T) {
	valid := []string{
		"11111111111111111111111111111111",
		"So11111111111111111111111111111111111111112",
		"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
	}
	for _, a := range valid {
		if !ValidAddress(a) {
			t.Errorf("expected %q valid", a)
		}
	}
	invalid := []string{
		"",
		"0OIl",            // characters outside the alphabet
		"abc",             // decodes to fewer than 32 bytes
		"So1111111111112", // too short
	}
	for _, a := range invalid {
		if ValidAddress(a) {
			t.Errorf("expected %q invalid", a)
		}
	}
}

func TestBalanceDelta(t *testing.T) {
	rec := &TransactionRecord{
		Accounts:     []string{"payer", "payee", "program"},
		PreBalances:  []int64{10, 5, 1},
		PostBalances: []int64{7, 8, 1},
	}
	if delta, ok := rec.BalanceDelta("payee"); !ok || delta != 3 {
		t.Fatalf("payee delta: got %d %v", delta, ok)
	}
	if delta, ok := rec.BalanceDelta("payer"); !ok || delta != -3 {
		t.Fatalf("payer delta: got %d %v", delta, ok)
	}
	if _, ok := rec.BalanceDelta("stranger"); ok {
		t.Fatalf("stranger should not be involved")
	}
}

func rpcServer(t *testing.T, respond func(sig string) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Method != "getTransaction" {
			t.Errorf("unexpected method %s", req.Method)
		}
		sig, _ := req.Params[0].(string)
		result, rpcErr := respond(sig)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestRPCClientFetchTransaction(t *testing.T) {
	srv := rpcServer(t, func(sig string) (any, *rpcError) {
		if sig != "sig-ok" {
			return nil, nil // null result: signature unknown
		}
		return map[string]any{
			"slot":      int64(1234),
			"blockTime": int64(1700000000),
			"meta": map[string]any{
				"err":          nil,
				"preBalances":  []int64{100, 50},
				"postBalances": []int64{60, 90},
			},
			"transaction": map[string]any{
				"message": map[string]any{
					"accountKeys": []string{"payer", "payee"},
				},
			},
		}, nil
	})
	defer srv.Close()
	client := NewRPCClient(srv.URL)

	rec, err := client.FetchTransaction(context.Background(), "sig-ok")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !rec.Succeeded || rec.Slot != 1234 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if delta, ok := rec.BalanceDelta("payee"); !ok || delta != 40 {
		t.Fatalf("expected payee delta 40, got %d %v", delta, ok)
	}

	_, err = client.FetchTransaction(context.Background(), "sig-unknown")
	if !errors.Is(err, ErrTxNotFound) {
		t.Fatalf("expected ErrTxNotFound, got %v", err)
	}
}

func TestRPCClientFailedTransaction(t *testing.T) {
	srv := rpcServer(t, func(sig string) (any, *rpcError) {
		return map[string]any{
			"slot": int64(99),
			"meta": map[string]any{
				"err":          map[string]any{"InstructionError": []any{0, "Custom"}},
				"preBalances":  []int64{100},
				"postBalances": []int64{95},
			},
			"transaction": map[string]any{
				"message": map[string]any{"accountKeys": []string{"payer"}},
			},
		}, nil
	})
	defer srv.Close()

	rec, err := NewRPCClient(srv.URL).FetchTransaction(context.Background(), "sig-failed")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if rec.Succeeded {
		t.Fatalf("expected failed transaction")
	}
}

func TestRPCClientTransientFailures(t *testing.T) {
	// RPC-level error object.
	srv := rpcServer(t, func(sig string) (any, *rpcError) {
		return nil, &rpcError{Code: -32005, Message: "node is behind"}
	})
	_, err := NewRPCClient(srv.URL).FetchTransaction(context.Background(), "sig-x")
	srv.Close()
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient for rpc error, got %v", err)
	}

	// HTTP-level failure.
	srv500 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	_, err = NewRPCClient(srv500.URL).FetchTransaction(context.Background(), "sig-x")
	srv500.Close()
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient for http failure, got %v", err)
	}

	// Unreachable endpoint.
	_, err = NewRPCClient("http://127.0.0.1:1").FetchTransaction(context.Background(), "sig-x")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient for connection failure, got %v", err)
	}
}
