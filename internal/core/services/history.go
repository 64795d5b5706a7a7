package services

import (
	"sync"

	"taskmesh.route/internal/core/domain"
)

// DecisionHistory is a fixed-size ring of the most recent routing decisions,
// newest first, for the dashboard's recent-activity view.
type DecisionHistory struct {
	mu       sync.Mutex
	capacity int
	buf      []*domain.Decision
	next     int
	full     bool
}

func NewDecisionHistory(capacity int) *DecisionHistory {
	if capacity <= 0 {
		capacity = 100
	}
	return &DecisionHistory{
		capacity: capacity,
		buf:      make([]*domain.Decision, capacity),
	}
}

func (h *DecisionHistory) Add(d *domain.Decision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = d.Clone()
	h.next = (h.next + 1) % h.capacity
	if h.next == 0 {
		h.full = true
	}
}

// Recent returns up to limit decisions, newest first.
func (h *DecisionHistory) Recent(limit int) []*domain.Decision {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := h.next
	if h.full {
		size = h.capacity
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]*domain.Decision, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (h.next - i + h.capacity) % h.capacity
		out = append(out, h.buf[idx].Clone())
	}
	return out
}
