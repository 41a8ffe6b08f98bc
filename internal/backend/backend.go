// Package backend runs the priced service once the gate has admitted a task.
package backend

import (
	"context"
	"encoding/json"
	"time"
)

// Backend executes a service against an input payload. The engine treats it
// as opaque: it supervises the call with a timeout and reconciles the result
// into the task record, nothing more.
type Backend interface {
	Run(ctx context.Context, serviceID, inputJSON string) (outputJSON string, err error)
}

// Local executes services in-process so the gateway works end to end without
// external workers. The output wraps the input with execution metadata.
type Local struct {
	// Delay simulates work; zero means respond immediately.
	Delay time.Duration
	Now   func() time.Time
}

func (l Local) Run(ctx context.Context, serviceID, inputJSON string) (string, error) {
	if l.Delay > 0 {
		select {
		case <-time.After(l.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	now := l.Now
	if now == nil {
		now = time.Now
	}
	var input any
	if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
		input = inputJSON
	}
	out, err := json.Marshal(map[string]any{
		"service_id":   serviceID,
		"input":        input,
		"completed_at": now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
