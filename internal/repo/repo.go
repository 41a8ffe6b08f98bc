package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fl-sean03/solana-agent-payment-gateway/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agents(id,name,wallet_address,description,earned_lamports,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.Name, a.WalletAddress, nullable(a.Description), a.EarnedLamports, a.CreatedAt)
	return err
}

func scanAgent(row *sql.Row) (domain.Agent, error) {
	var a domain.Agent
	var desc sql.NullString
	err := row.Scan(&a.ID, &a.Name, &a.WalletAddress, &desc, &a.EarnedLamports, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if desc.Valid {
		a.Description = desc.String
	}
	return a, err
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return scanAgent(r.DB.QueryRowContext(ctx,
		`SELECT id,name,wallet_address,description,earned_lamports,created_at FROM agents WHERE id=?`, id))
}

func (r Repo) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,name,wallet_address,COALESCE(description,''),earned_lamports,created_at FROM agents ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.WalletAddress, &a.Description, &a.EarnedLamports, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CreditAgentEarnings adds lamports to the agent's running earnings total.
// Display aggregate only; never consulted to authorize spending.
func (r Repo) CreditAgentEarnings(ctx context.Context, tx *sql.Tx, agentID string, lamports int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE agents SET earned_lamports=earned_lamports+? WHERE id=?`, lamports, agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertService(ctx context.Context, tx *sql.Tx, s domain.Service) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO services(id,agent_id,name,description,pay_to_address,price_lamports,asset,completed_tasks,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.AgentID, s.Name, nullable(s.Description), s.PayToAddress, s.PriceLamports, s.Asset, s.CompletedTasks, s.CreatedAt)
	return err
}

func scanService(row *sql.Row) (domain.Service, error) {
	var s domain.Service
	var desc sql.NullString
	err := row.Scan(&s.ID, &s.AgentID, &s.Name, &desc, &s.PayToAddress, &s.PriceLamports, &s.Asset, &s.CompletedTasks, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if desc.Valid {
		s.Description = desc.String
	}
	return s, err
}

func (r Repo) GetService(ctx context.Context, id string) (domain.Service, error) {
	return scanService(r.DB.QueryRowContext(ctx,
		`SELECT id,agent_id,name,description,pay_to_address,price_lamports,asset,completed_tasks,created_at FROM services WHERE id=?`, id))
}

func (r Repo) ListServices(ctx context.Context, agentID string) ([]domain.Service, error) {
	query := `SELECT id,agent_id,name,COALESCE(description,''),pay_to_address,price_lamports,asset,completed_tasks,created_at FROM services`
	var args []any
	if agentID != "" {
		query += ` WHERE agent_id=?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Service
	for rows.Next() {
		var s domain.Service
		if err := rows.Scan(&s.ID, &s.AgentID, &s.Name, &s.Description, &s.PayToAddress, &s.PriceLamports, &s.Asset, &s.CompletedTasks, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// IncrementCompletedTasks bumps the service's completed-task counter.
func (r Repo) IncrementCompletedTasks(ctx context.Context, tx *sql.Tx, serviceID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE services SET completed_tasks=completed_tasks+1 WHERE id=?`, serviceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
