package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"taskmesh.route/internal/core/circuitbreaker"
	"taskmesh.route/internal/core/domain"
	"taskmesh.route/internal/core/ports"
)

// Escalator forwards tasks to the remote routing venue over HTTP. The call
// is protected by a circuit breaker so a dead cloud endpoint fails fast
// instead of burning the caller's escalation timeout on every task.
type Escalator struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewEscalator(baseURL string, timeout time.Duration) *Escalator {
	if timeout <= 0 {
		timeout = 1000 * time.Millisecond
	}
	return &Escalator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New("cloud-escalation"),
	}
}

var _ ports.CloudEscalator = (*Escalator)(nil)

func (e *Escalator) Escalate(ctx context.Context, task *domain.Task) (*domain.Decision, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}

	var decision *domain.Decision
	err = e.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/route", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return fmt.Errorf("cloud venue unreachable: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("cloud venue returned %d: %s", resp.StatusCode, string(b))
		}
		var d domain.Decision
		if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
			return fmt.Errorf("decode cloud decision: %w", err)
		}
		if d.Location != "" && !d.Location.Valid() {
			return fmt.Errorf("cloud venue returned unknown execution_location %q", d.Location)
		}
		decision = &d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// BreakerState reports the escalation circuit state for health checks.
func (e *Escalator) BreakerState() string {
	return e.breaker.State().String()
}
