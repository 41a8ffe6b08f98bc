// Package ledger queries the public ledger that verification treats as
// ground truth. The gateway never signs or submits transactions; it only
// reads finalized records.
package ledger

import (
	"context"
	"errors"
)

// ErrTxNotFound means the ledger has no record of the signature. Distinct
// from ErrTransient: the payment stays re-verifiable but nothing suggests
// retrying will help until the payer lands a transaction.
var ErrTxNotFound = errors.New("transaction not found on chain")

// ErrTransient wraps network and RPC failures where the ledger's answer is
// unknown. Callers retry; they must never treat this as a verdict.
var ErrTransient = errors.New("ledger temporarily unavailable")

// TransactionRecord is the authoritative on-chain record of a transaction,
// reduced to what verification needs.
type TransactionRecord struct {
	Signature    string
	Succeeded    bool
	Accounts     []string
	PreBalances  []int64
	PostBalances []int64
	Slot         int64
	BlockTime    *int64
}

// BalanceDelta returns the native-asset balance change attributable to the
// address within the transaction, and whether the address was involved at
// all.
func (r *TransactionRecord) BalanceDelta(address string) (int64, bool) {
	for i, acct := range r.Accounts {
		if acct != address {
			continue
		}
		if i >= len(r.PreBalances) || i >= len(r.PostBalances) {
			return 0, true
		}
		return r.PostBalances[i] - r.PreBalances[i], true
	}
	return 0, false
}

// Oracle fetches authoritative transaction records.
//
// FetchTransaction returns ErrTxNotFound when the ledger has no record for
// the signature, or an error wrapping ErrTransient when the ledger could not
// be asked.
type Oracle interface {
	FetchTransaction(ctx context.Context, signature string) (*TransactionRecord, error)
}
