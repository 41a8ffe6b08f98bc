package repo

import (
	"context"
	"database/sql"

	"github.com/fl-sean03/solana-agent-payment-gateway/internal/domain"
)

const taskColumns = `id,payment_id,service_id,status,input_json,output_json,abandon_reason,created_at,completed_at`

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.PaymentID, t.ServiceID, t.Status, t.InputJSON, t.OutputJSON, t.AbandonReason, t.CreatedAt, t.CompletedAt)
	return err
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	err := scan(&t.ID, &t.PaymentID, &t.ServiceID, &t.Status, &t.InputJSON, &t.OutputJSON, &t.AbandonReason, &t.CreatedAt, &t.CompletedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) ListTasks(ctx context.Context, serviceID string) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if serviceID != "" {
		query += ` WHERE service_id=?`
		args = append(args, serviceID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CompleteTask settles a processing task with its output. Guarded on the
// processing status so completion cannot race an abandonment.
func (r Repo) CompleteTask(ctx context.Context, tx *sql.Tx, taskID, outputJSON, completedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status=?, output_json=?, completed_at=? WHERE id=? AND status=?`,
		domain.TaskCompleted, outputJSON, completedAt, taskID, domain.TaskProcessing)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleStatus
	}
	return nil
}

// AbandonTask marks a processing task as observably given up.
func (r Repo) AbandonTask(ctx context.Context, tx *sql.Tx, taskID, reason, completedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status=?, abandon_reason=?, completed_at=? WHERE id=? AND status=?`,
		domain.TaskAbandoned, reason, completedAt, taskID, domain.TaskProcessing)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleStatus
	}
	return nil
}
