package ports

import (
	"context"
	"time"

	"taskmesh.route/internal/core/domain"
)

// AgentRegistry is the only shared mutable resource in the engine. Reads may
// proceed concurrently; mutations go through CompareAndUpdate so two
// concurrent routings never both claim a just-filled workload slot.
type AgentRegistry interface {
	Upsert(ctx context.Context, agent *domain.Agent) error
	Get(ctx context.Context, id string) (*domain.Agent, error)
	List(ctx context.Context) ([]*domain.Agent, error)
	// ListEligible returns available agents whose capability set covers every
	// requirement at or above its minimum proficiency.
	ListEligible(ctx context.Context, reqs []domain.Requirement) ([]*domain.Agent, error)
	// CompareAndUpdate applies agent if its stored version still equals
	// expectedVersion, otherwise returns domain.ErrStaleAgent.
	CompareAndUpdate(ctx context.Context, agent *domain.Agent, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
	// Signature is a coarse fingerprint of the agent pool (ids, statuses,
	// versions) used as part of the decision-cache key.
	Signature(ctx context.Context) (string, error)
}

// DecisionCache is a bounded, TTL-expiring store of routing decisions keyed
// by fingerprint. Implementations must support concurrent lookups.
type DecisionCache interface {
	// Lookup returns a fresh (non-expired) decision for the fingerprint.
	Lookup(ctx context.Context, fingerprint string) (*domain.Decision, bool)
	// Stale returns the last known decision even when expired; used as the
	// rule-based fallback when the latency budget is already blown.
	Stale(ctx context.Context, fingerprint string) (*domain.Decision, bool)
	Store(ctx context.Context, fingerprint string, d *domain.Decision)
	Len() int
}

// EventBus is the explicit publish/subscribe surface for finalized decisions
// and fleet alerts; consumers are the websocket hub and the MQTT publisher.
type EventBus interface {
	PublishDecision(ctx context.Context, d *domain.Decision) error
	PublishAgentAlert(ctx context.Context, alert domain.AgentAlert) error
	SubscribeDecisions(ctx context.Context) (<-chan domain.Decision, error)
	SubscribeAgentAlerts(ctx context.Context) (<-chan domain.AgentAlert, error)
}

// CloudEscalator forwards a task to the remote routing venue. The call is
// blocking with its own bounded timeout; it must not be made while holding
// any registry lock.
type CloudEscalator interface {
	Escalate(ctx context.Context, task *domain.Task) (*domain.Decision, error)
}

// EscalationLog records tasks whose cloud escalation failed, for operator
// review.
type EscalationLog interface {
	Record(ctx context.Context, task *domain.Task, reason string) error
	List(ctx context.Context, offset, limit int64) ([]FailedEscalation, error)
	Count(ctx context.Context) (int64, error)
}

type FailedEscalation struct {
	Task        *domain.Task `json:"task"`
	Reason      string       `json:"reason"`
	FailureTime time.Time    `json:"failure_time"`
}
