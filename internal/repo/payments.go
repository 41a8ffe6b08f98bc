package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fl-sean03/solana-agent-payment-gateway/internal/domain"
)

// ErrStaleStatus is returned when a guarded payment update observes a status
// other than the one the caller read. It means a concurrent transition won.
var ErrStaleStatus = errors.New("payment status changed concurrently")

const paymentColumns = `id,service_id,payer_id,payer_address,payee_id,pay_to_address,amount_lamports,asset,status,tx_signature,verified_slot,verified_at,executed_task_id,created_at,updated_at`

func (r Repo) InsertPayment(ctx context.Context, tx *sql.Tx, p domain.Payment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO payments(`+paymentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ServiceID, p.PayerID, p.PayerAddress, p.PayeeID, p.PayToAddress,
		p.AmountLamports, p.Asset, p.Status, p.TxSignature, p.VerifiedSlot, p.VerifiedAt,
		p.ExecutedTaskID, p.CreatedAt, p.UpdatedAt)
	return err
}

func scanPayment(scan func(dest ...any) error) (domain.Payment, error) {
	var p domain.Payment
	err := scan(&p.ID, &p.ServiceID, &p.PayerID, &p.PayerAddress, &p.PayeeID, &p.PayToAddress,
		&p.AmountLamports, &p.Asset, &p.Status, &p.TxSignature, &p.VerifiedSlot, &p.VerifiedAt,
		&p.ExecutedTaskID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=?`, id)
	return scanPayment(row.Scan)
}

func (r Repo) ListPayments(ctx context.Context, status string) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// RecordClaim stores the claimed transaction signature before the oracle is
// queried, overwriting any prior claim, so a crash mid-verification still
// leaves an auditable trail.
func (r Repo) RecordClaim(ctx context.Context, tx *sql.Tx, paymentID, signature, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE payments SET tx_signature=?, updated_at=? WHERE id=?`,
		signature, updatedAt, paymentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePaymentStatus transitions a payment's verification state guarded by
// the status the caller read. A zero-row update means another transition
// committed first; the caller must re-read instead of clobbering it.
func (r Repo) UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, p domain.Payment, expectStatus string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET status=?, tx_signature=?, verified_slot=?, verified_at=?, updated_at=? WHERE id=? AND status=?`,
		p.Status, p.TxSignature, p.VerifiedSlot, p.VerifiedAt, p.UpdatedAt, p.ID, expectStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleStatus
	}
	return nil
}

// MarkPaymentExecuted consumes a verified payment for a single task. The
// guard on executed_task_id IS NULL makes admission first-wins.
func (r Repo) MarkPaymentExecuted(ctx context.Context, tx *sql.Tx, paymentID, taskID, updatedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET executed_task_id=?, updated_at=? WHERE id=? AND status=? AND executed_task_id IS NULL`,
		taskID, updatedAt, paymentID, domain.PaymentVerified)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleStatus
	}
	return nil
}
