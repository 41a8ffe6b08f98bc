package server

import (
	"encoding/json"

	"github.com/fl-sean03/solana-agent-payment-gateway/internal/domain"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/engine"
)

type RegisterAgentRequest struct {
	ID            *string `json:"id,omitempty"`
	Name          string  `json:"name"`
	WalletAddress string  `json:"wallet_address"`
	Description   *string `json:"description,omitempty"`
}

type CreateServiceRequest struct {
	ID            *string `json:"id,omitempty"`
	AgentID       string  `json:"agent_id"`
	Name          string  `json:"name"`
	Description   *string `json:"description,omitempty"`
	PriceLamports int64   `json:"price_lamports"`
	Asset         *string `json:"asset,omitempty" enum:"SOL"`
}

type InitiatePaymentRequest struct {
	ServiceID string `json:"service_id"`
	PayerID   string `json:"payer_id"`
}

type InitiatePaymentResponse struct {
	Payment      domain.Payment      `json:"payment"`
	Instructions domain.Instructions `json:"instructions"`
}

type VerifyPaymentRequest struct {
	TxSignature string `json:"tx_signature"`
}

// VerifyPaymentResponse mirrors engine.VerifyResult; failure outcomes are
// still 200-level answers, not transport errors.
type VerifyPaymentResponse struct {
	Outcome string         `json:"outcome" enum:"verified,not_found_on_chain,transaction_failed,wrong_recipient,underpaid,verification_error"`
	Reason  string         `json:"reason,omitempty"`
	Payment domain.Payment `json:"payment"`
}

func verifyResponse(res engine.VerifyResult) VerifyPaymentResponse {
	return VerifyPaymentResponse{Outcome: res.Outcome, Reason: res.Reason, Payment: res.Payment}
}

type ExecuteRequest struct {
	Input json.RawMessage `json:"input,omitempty"`
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
