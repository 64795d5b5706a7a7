package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"taskmesh.route/internal/core/domain"
	"taskmesh.route/internal/core/ports"
)

// Registry is the in-process agent store, used for tests and for running the
// engine without Postgres. All snapshots handed out are deep copies.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*domain.Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*domain.Agent)}
}

var _ ports.AgentRegistry = (*Registry)(nil)

func (r *Registry) Upsert(_ context.Context, agent *domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	cp := agent.Clone()
	if prev, ok := r.agents[agent.ID]; ok {
		cp.Version = prev.Version + 1
		cp.CreatedAt = prev.CreatedAt
	} else {
		cp.Version = 1
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.agents[cp.ID] = cp
	return nil
}

func (r *Registry) Get(_ context.Context, id string) (*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	return agent.Clone(), nil
}

func (r *Registry) List(_ context.Context) ([]*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) ListEligible(_ context.Context, reqs []domain.Requirement) ([]*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		if !a.Available() {
			continue
		}
		if !covers(a, reqs) {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func covers(a *domain.Agent, reqs []domain.Requirement) bool {
	for _, req := range reqs {
		capability, ok := a.Capabilities[req.Type]
		if !ok || capability.Proficiency < req.MinProficiency {
			return false
		}
	}
	return true
}

func (r *Registry) CompareAndUpdate(_ context.Context, agent *domain.Agent, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.agents[agent.ID]
	if !ok {
		return fmt.Errorf("agent %s: %w", agent.ID, domain.ErrNotFound)
	}
	if prev.Version != expectedVersion {
		return fmt.Errorf("agent %s version %d != expected %d: %w",
			agent.ID, prev.Version, expectedVersion, domain.ErrStaleAgent)
	}
	cp := agent.Clone()
	cp.Version = prev.Version + 1
	cp.CreatedAt = prev.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	r.agents[cp.ID] = cp
	return nil
}

func (r *Registry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	delete(r.agents, id)
	return nil
}

// Signature hashes ids, statuses and versions in id order. Any mutation of
// the pool changes the signature, which invalidates cache fingerprints built
// on the previous pool state.
func (r *Registry) Signature(_ context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	h := fnv.New64a()
	for _, id := range ids {
		a := r.agents[id]
		fmt.Fprintf(h, "%s:%s:%d|", a.ID, a.Status, a.Version)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
