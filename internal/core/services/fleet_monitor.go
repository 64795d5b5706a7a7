package services

import (
	"context"
	"errors"
	"time"

	"taskmesh.route/internal/core/domain"
	"taskmesh.route/internal/core/logger"
	"taskmesh.route/internal/core/ports"
)

// FleetMonitor watches agent heartbeats and marks silent agents offline so
// the selector stops considering them. Transitions are published as alerts.
type FleetMonitor struct {
	registry         ports.AgentRegistry
	bus              ports.EventBus // may be nil
	heartbeatTimeout time.Duration
	interval         time.Duration
	alertChan        chan domain.AgentAlert
}

func NewFleetMonitor(registry ports.AgentRegistry, bus ports.EventBus, heartbeatTimeout time.Duration) *FleetMonitor {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 90 * time.Second
	}
	return &FleetMonitor{
		registry:         registry,
		bus:              bus,
		heartbeatTimeout: heartbeatTimeout,
		interval:         30 * time.Second,
		alertChan:        make(chan domain.AgentAlert, 100),
	}
}

// Start begins monitoring agents. Blocks until ctx is done.
func (m *FleetMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep marks agents with stale heartbeats offline. The offline transition
// goes through compare-and-update so a concurrent heartbeat wins.
func (m *FleetMonitor) sweep(ctx context.Context) {
	agents, err := m.registry.List(ctx)
	if err != nil {
		logger.Error("fleet monitor failed to list agents", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, agent := range agents {
		if agent.Status == domain.AgentStatusOffline {
			continue
		}
		if agent.LastHeartbeat.IsZero() || now.Sub(agent.LastHeartbeat) <= m.heartbeatTimeout {
			continue
		}

		update := agent.Clone()
		update.Status = domain.AgentStatusOffline
		if err := m.registry.CompareAndUpdate(ctx, update, agent.Version); err != nil {
			if errors.Is(err, domain.ErrStaleAgent) {
				continue // agent changed under us, re-check next sweep
			}
			logger.Error("fleet monitor failed to mark agent offline", "agent_id", agent.ID, "error", err)
			continue
		}

		alert := domain.AgentAlert{AgentID: agent.ID, Event: "offline", Timestamp: now}
		select {
		case m.alertChan <- alert:
		default:
		}
		if m.bus != nil {
			if err := m.bus.PublishAgentAlert(ctx, alert); err != nil {
				logger.Warn("failed to publish agent alert", "agent_id", agent.ID, "error", err)
			}
		}
		logger.Warn("agent marked offline", "agent_id", agent.ID, "last_heartbeat", agent.LastHeartbeat)
	}
}

// Alerts returns the alert channel.
func (m *FleetMonitor) Alerts() <-chan domain.AgentAlert {
	return m.alertChan
}

// Heartbeat records a liveness signal from an agent, reviving offline agents
// to available.
func (m *FleetMonitor) Heartbeat(ctx context.Context, agentID string) error {
	agent, err := m.registry.Get(ctx, agentID)
	if err != nil {
		return err
	}
	update := agent.Clone()
	update.LastHeartbeat = time.Now().UTC()
	if update.Status == domain.AgentStatusOffline {
		update.Status = domain.AgentStatusAvailable
	}
	err = m.registry.CompareAndUpdate(ctx, update, agent.Version)
	if errors.Is(err, domain.ErrStaleAgent) {
		// Somebody else updated the agent first; their heartbeat stands.
		return nil
	}
	return err
}
