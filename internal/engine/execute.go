package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fl-sean03/solana-agent-payment-gateway/internal/domain"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/events"
	"github.com/fl-sean03/solana-agent-payment-gateway/internal/repo"
)

// Execute admits a task strictly on the payment's verified status. This is
// the single enforcement point of the pay-before-execute guarantee: every
// other status fails with NotVerifiedError, and a verified payment admits
// exactly one task.
//
// The call returns as soon as the task record exists; the backend runs
// asynchronously under a supervised timeout.
func (e Engine) Execute(ctx context.Context, paymentID, inputJSON, actorID string) (domain.Task, error) {
	if paymentID == "" {
		return domain.Task{}, fmt.Errorf("%w: payment_id is required", ErrInvalidArgument)
	}
	if inputJSON == "" {
		inputJSON = "{}"
	}
	if err := validateJSON(inputJSON); err != nil {
		return domain.Task{}, fmt.Errorf("%w: input: %v", ErrInvalidArgument, err)
	}
	unlock, err := e.lock("payment:" + paymentID)
	if err != nil {
		return domain.Task{}, err
	}
	defer unlock()

	p, err := e.Repo.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Task{}, err
	}
	if p.Status != domain.PaymentVerified {
		return domain.Task{}, NotVerifiedError{Status: p.Status}
	}
	if p.ExecutedTaskID != nil {
		return domain.Task{}, AlreadyExecutedError{TaskID: *p.ExecutedTaskID}
	}
	svc, err := e.Repo.GetService(ctx, p.ServiceID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:        uuid.New().String(),
		PaymentID: p.ID,
		ServiceID: svc.ID,
		Status:    domain.TaskProcessing,
		InputJSON: inputJSON,
		CreatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Repo.MarkPaymentExecuted(ctx, tx, p.ID, t.ID, now); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, actorID, events.EventPayload{
		"payment_id": p.ID,
		"service_id": svc.ID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}

	e.running.Add(1)
	go e.superviseTask(t, svc)
	return t, nil
}

const (
	// settleTimeout bounds a single attempt to write a task's terminal status.
	settleTimeout = 30 * time.Second
	// settleAttempts and settleRetryDelay cover transient write failures such
	// as SQLITE_BUSY.
	settleAttempts   = 5
	settleRetryDelay = time.Second
)

// superviseTask runs the backend with a hard deadline so a hung backend can
// never leave a task silently processing forever.
func (e Engine) superviseTask(t domain.Task, svc domain.Service) {
	defer e.running.Done()
	timeout := 120 * time.Second
	if e.Config != nil {
		timeout = e.Config.ExecutionTimeout()
	}
	runCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type runResult struct {
		output string
		err    error
	}
	done := make(chan runResult, 1)
	go func() {
		out, err := e.Backend.Run(runCtx, svc.ID, t.InputJSON)
		done <- runResult{output: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			reason := r.err.Error()
			e.settleTask(t.ID, func(ctx context.Context) error {
				_, err := e.AbandonTask(ctx, t.ID, reason, "system")
				return err
			})
			return
		}
		e.settleTask(t.ID, func(ctx context.Context) error {
			_, err := e.CompleteTask(ctx, t.ID, r.output, "system")
			return err
		})
	case <-runCtx.Done():
		e.settleTask(t.ID, func(ctx context.Context) error {
			_, err := e.AbandonTask(ctx, t.ID, "execution timed out", "system")
			return err
		})
	}
}

// settleTask writes the task's terminal status, retrying transient write
// failures. An admitted task must end up completed or observably abandoned;
// dropping a settlement error here would strand it in processing.
func (e Engine) settleTask(taskID string, settle func(context.Context) error) {
	var err error
	for attempt := 0; attempt < settleAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(settleRetryDelay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		err = settle(ctx)
		cancel()
		if err == nil || errors.Is(err, repo.ErrStaleStatus) {
			// Stale means a concurrent settlement already landed.
			return
		}
	}
	log.Printf("task %s: settlement failed after %d attempts: %v", taskID, settleAttempts, err)
}

// CompleteTask settles a processing task with the backend's output and bumps
// the service's completed-task counter.
func (e Engine) CompleteTask(ctx context.Context, taskID, outputJSON, actorID string) (domain.Task, error) {
	unlock, err := e.lock("task:" + taskID)
	if err != nil {
		return domain.Task{}, err
	}
	defer unlock()

	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.CompleteTask(ctx, tx, taskID, outputJSON, now); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return t, fmt.Errorf("task %s is not processing (status %s): %w", taskID, t.Status, repo.ErrStaleStatus)
		}
		return t, err
	}
	if err := e.Repo.IncrementCompletedTasks(ctx, tx, t.ServiceID); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.completed", "task", t.ID, actorID, events.EventPayload{
		"service_id": t.ServiceID,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	t.Status = domain.TaskCompleted
	t.OutputJSON = &outputJSON
	t.CompletedAt = &now
	return t, nil
}

// AbandonTask marks a processing task as terminally given up, with the
// reason on the record.
func (e Engine) AbandonTask(ctx context.Context, taskID, reason, actorID string) (domain.Task, error) {
	unlock, err := e.lock("task:" + taskID)
	if err != nil {
		return domain.Task{}, err
	}
	defer unlock()

	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.AbandonTask(ctx, tx, taskID, reason, now); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return t, fmt.Errorf("task %s is not processing (status %s): %w", taskID, t.Status, repo.ErrStaleStatus)
		}
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.abandoned", "task", t.ID, actorID, events.EventPayload{
		"reason": reason,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	t.Status = domain.TaskAbandoned
	t.AbandonReason = &reason
	t.CompletedAt = &now
	return t, nil
}

func validateJSON(in string) error {
	var tmp any
	return json.Unmarshal([]byte(in), &tmp)
}
