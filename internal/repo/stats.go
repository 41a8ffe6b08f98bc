package repo

import (
	"context"

	"github.com/fl-sean03/solana-agent-payment-gateway/internal/domain"
)

// Stats recomputes the read-side aggregates from the stores on every call.
func (r Repo) Stats(ctx context.Context) (domain.Stats, error) {
	s := domain.Stats{VerifiedLamports: map[string]int64{}}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT asset, COUNT(*), COALESCE(SUM(amount_lamports),0) FROM payments WHERE status=? GROUP BY asset`,
		domain.PaymentVerified)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var asset string
		var count, sum int64
		if err := rows.Scan(&asset, &count, &sum); err != nil {
			return s, err
		}
		s.VerifiedPayments += count
		s.VerifiedLamports[asset] = sum
	}
	if err := rows.Err(); err != nil {
		return s, err
	}
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status=?`, domain.TaskCompleted).Scan(&s.CompletedTasks); err != nil {
		return s, err
	}
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status=?`, domain.TaskAbandoned).Scan(&s.AbandonedTasks); err != nil {
		return s, err
	}
	return s, nil
}

// AgentStats aggregates earnings and completions for a single payee agent.
func (r Repo) AgentStats(ctx context.Context, agentID string) (domain.AgentStats, error) {
	s := domain.AgentStats{AgentID: agentID}
	a, err := r.GetAgent(ctx, agentID)
	if err != nil {
		return s, err
	}
	s.EarnedLamports = a.EarnedLamports
	if err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payments WHERE payee_id=? AND status=?`, agentID, domain.PaymentVerified).Scan(&s.VerifiedPayments); err != nil {
		return s, err
	}
	err = r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks t JOIN services sv ON sv.id=t.service_id WHERE sv.agent_id=? AND t.status=?`,
		agentID, domain.TaskCompleted).Scan(&s.CompletedTasks)
	return s, err
}

// LatestEvents returns the newest audit events, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	var clauses []string
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
