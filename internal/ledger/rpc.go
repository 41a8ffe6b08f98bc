package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RPCClient is an Oracle backed by a Solana JSON-RPC endpoint. It issues
// getTransaction calls and normalizes the response into TransactionRecord.
type RPCClient struct {
	URL        string
	HTTPClient *http.Client
}

func NewRPCClient(url string) *RPCClient {
	return &RPCClient{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type getTransactionResult struct {
	Slot      int64  `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err          any     `json:"err"`
		PreBalances  []int64 `json:"preBalances"`
		PostBalances []int64 `json:"postBalances"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

func (c *RPCClient) FetchTransaction(ctx context.Context, signature string) (*TransactionRecord, error) {
	payload := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params: []any{signature, map[string]any{
			"encoding":                       "json",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: rpc status %d", ErrTransient, res.StatusCode)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	var envelope struct {
		Result *getTransactionResult `json:"result"`
		Error  *rpcError             `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode rpc response: %v", ErrTransient, err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("%w: rpc error %d: %s", ErrTransient, envelope.Error.Code, envelope.Error.Message)
	}
	// A null result is the RPC's way of saying the signature is unknown.
	if envelope.Result == nil {
		return nil, ErrTxNotFound
	}
	r := envelope.Result
	rec := &TransactionRecord{
		Signature: signature,
		Succeeded: r.Meta == nil || r.Meta.Err == nil,
		Accounts:  r.Transaction.Message.AccountKeys,
		Slot:      r.Slot,
		BlockTime: r.BlockTime,
	}
	if r.Meta != nil {
		rec.PreBalances = r.Meta.PreBalances
		rec.PostBalances = r.Meta.PostBalances
	}
	return rec, nil
}
