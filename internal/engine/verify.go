package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fl-sean03/solana-agent-payment-gateway/internal/domain"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/events"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/ledger"
)

// Verification outcomes. Business results, not errors: every outcome is a
// valid answer to "did this transaction settle the payment".
const (
	OutcomeVerified          = "verified"
	OutcomeNotFoundOnChain   = "not_found_on_chain"
	OutcomeTransactionFailed = "transaction_failed"
	OutcomeWrongRecipient    = "wrong_recipient"
	OutcomeUnderpaid         = "underpaid"
	OutcomeVerificationError = "verification_error"
)

type VerifyResult struct {
	Outcome string         `json:"outcome" enum:"verified,not_found_on_chain,transaction_failed,wrong_recipient,underpaid,verification_error"`
	Reason  string         `json:"reason,omitempty"`
	Payment domain.Payment `json:"payment"`
}

func outcomeForStatus(status string) string {
	switch status {
	case domain.PaymentVerified:
		return OutcomeVerified
	case domain.PaymentNotFound:
		return OutcomeNotFoundOnChain
	case domain.PaymentFailed:
		return OutcomeTransactionFailed
	case domain.PaymentWrongRecipient:
		return OutcomeWrongRecipient
	case domain.PaymentUnderpaid:
		return OutcomeUnderpaid
	default:
		return OutcomeVerificationError
	}
}

// VerifyPayment reconciles a claimed transaction against the payment's
// expected parameters and the ledger's record. Conditions are checked in a
// fixed order and the first match wins; the ordering is the tie-break policy.
//
// Terminal rules: a verified or failed payment always returns its stored
// outcome without touching the oracle. wrong_recipient is terminal only for
// the claimed signature; a different signature re-runs the full algorithm.
func (e Engine) VerifyPayment(ctx context.Context, paymentID, txSignature, actorID string) (VerifyResult, error) {
	if paymentID == "" {
		return VerifyResult{}, fmt.Errorf("%w: payment_id is required", ErrInvalidArgument)
	}
	if txSignature == "" {
		return VerifyResult{}, fmt.Errorf("%w: tx_signature is required", ErrInvalidArgument)
	}
	unlock, err := e.lock("payment:" + paymentID)
	if err != nil {
		return VerifyResult{}, err
	}
	defer unlock()

	p, err := e.Repo.GetPayment(ctx, paymentID)
	if err != nil {
		return VerifyResult{}, err
	}
	switch p.Status {
	case domain.PaymentVerified, domain.PaymentFailed:
		return e.storedResult(p), nil
	case domain.PaymentWrongRecipient:
		if p.TxSignature != nil && *p.TxSignature == txSignature {
			return e.storedResult(p), nil
		}
	}
	prevStatus := p.Status

	// Record the claim before asking the oracle so a crash mid-verification
	// still leaves the submitted signature on the record.
	if err := e.recordClaim(ctx, &p, txSignature, actorID); err != nil {
		return VerifyResult{}, err
	}

	timeout := 15 * time.Second
	if e.Config != nil {
		timeout = e.Config.OracleTimeout()
	}
	octx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	rec, err := e.Oracle.FetchTransaction(octx, txSignature)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrTxNotFound):
		return e.settle(ctx, p, prevStatus, domain.PaymentNotFound, OutcomeNotFoundOnChain,
			"transaction not found on chain", actorID, nil)
	default:
		// Transient oracle failure, including timeout. The payment must not
		// be left ambiguous: it lands in the re-verifiable error status and
		// the caller retries.
		return e.settle(ctx, p, prevStatus, domain.PaymentError, OutcomeVerificationError,
			err.Error(), actorID, nil)
	}

	if !rec.Succeeded {
		return e.settle(ctx, p, prevStatus, domain.PaymentFailed, OutcomeTransactionFailed,
			"ledger reported execution failure", actorID, rec)
	}
	delta, involved := rec.BalanceDelta(p.PayToAddress)
	if !involved {
		return e.settle(ctx, p, prevStatus, domain.PaymentWrongRecipient, OutcomeWrongRecipient,
			fmt.Sprintf("payee address %s not involved in transaction", p.PayToAddress), actorID, rec)
	}
	if p.Asset == domain.AssetSOL && delta < e.minimumAccepted(p.AmountLamports) {
		return e.settle(ctx, p, prevStatus, domain.PaymentUnderpaid, OutcomeUnderpaid,
			fmt.Sprintf("received %d lamports, expected at least %d", delta, e.minimumAccepted(p.AmountLamports)), actorID, rec)
	}
	return e.settle(ctx, p, prevStatus, domain.PaymentVerified, OutcomeVerified, "", actorID, rec)
}

// minimumAccepted applies the underpayment tolerance: within tolerance_bps
// under the expected amount still verifies.
func (e Engine) minimumAccepted(expected int64) int64 {
	bps := int64(100)
	if e.Config != nil {
		bps = int64(e.Config.Verification.ToleranceBps)
	}
	return expected - expected*bps/10000
}

func (e Engine) storedResult(p domain.Payment) VerifyResult {
	return VerifyResult{Outcome: outcomeForStatus(p.Status), Payment: p}
}

func (e Engine) recordClaim(ctx context.Context, p *domain.Payment, txSignature, actorID string) error {
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RecordClaim(ctx, tx, p.ID, txSignature, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "payment.claim.recorded", "payment", p.ID, actorID, events.EventPayload{
		"tx_signature": txSignature,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	p.TxSignature = &txSignature
	p.UpdatedAt = now
	return nil
}

// settle writes the verification result onto the payment, guarded by the
// status read under the payment lock, and credits the payee on verified.
func (e Engine) settle(ctx context.Context, p domain.Payment, prevStatus, newStatus, outcome, reason, actorID string, rec *ledger.TransactionRecord) (VerifyResult, error) {
	now := e.now().UTC()
	p.Status = newStatus
	p.UpdatedAt = now.Format(time.RFC3339)
	if newStatus == domain.PaymentVerified && rec != nil {
		slot := rec.Slot
		at := now.Format(time.RFC3339)
		p.VerifiedSlot = &slot
		p.VerifiedAt = &at
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return VerifyResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdatePaymentStatus(ctx, tx, p, prevStatus); err != nil {
		return VerifyResult{}, err
	}
	if newStatus == domain.PaymentVerified {
		// Display aggregate only; credited exactly once because verified is
		// terminal and short-circuits future calls.
		if err := e.Repo.CreditAgentEarnings(ctx, tx, p.PayeeID, p.AmountLamports); err != nil {
			return VerifyResult{}, err
		}
		if err := e.Events.Append(ctx, tx, "payment.verified", "payment", p.ID, actorID, events.EventPayload{
			"tx_signature":    deref(p.TxSignature),
			"amount_lamports": p.AmountLamports,
			"slot":            derefInt(p.VerifiedSlot),
		}); err != nil {
			return VerifyResult{}, err
		}
	} else {
		if err := e.Events.Append(ctx, tx, "payment.verification.failed", "payment", p.ID, actorID, events.EventPayload{
			"outcome": outcome,
			"reason":  reason,
		}); err != nil {
			return VerifyResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Outcome: outcome, Reason: reason, Payment: p}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
