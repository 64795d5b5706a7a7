package pg

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"taskmesh.route/internal/core/domain"
	"taskmesh.route/internal/core/ports"
)

// Registry persists the agent fleet in Postgres through gorm. Capability
// maps are stored as a JSON column; optimistic concurrency rides on the
// version column.
type Registry struct {
	db *gorm.DB
}

func NewRegistry(dsn string) (*Registry, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&domain.Agent{}); err != nil {
		return nil, err
	}
	return &Registry{db: db}, nil
}

var _ ports.AgentRegistry = (*Registry)(nil)

func (r *Registry) Upsert(ctx context.Context, agent *domain.Agent) error {
	cp := agent.Clone()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev domain.Agent
		err := tx.First(&prev, "agent_id = ?", cp.ID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			cp.Version = 1
			return tx.Create(cp).Error
		case err != nil:
			return err
		default:
			cp.Version = prev.Version + 1
			cp.CreatedAt = prev.CreatedAt
			return tx.Save(cp).Error
		}
	})
}

func (r *Registry) Get(ctx context.Context, id string) (*domain.Agent, error) {
	var agent domain.Agent
	if err := r.db.WithContext(ctx).First(&agent, "agent_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return &agent, nil
}

func (r *Registry) List(ctx context.Context) ([]*domain.Agent, error) {
	var agents []*domain.Agent
	if err := r.db.WithContext(ctx).Order("agent_id asc").Find(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}

// ListEligible narrows to available agents in SQL, then applies the
// capability floors in Go since capabilities live in a JSON column.
func (r *Registry) ListEligible(ctx context.Context, reqs []domain.Requirement) ([]*domain.Agent, error) {
	var agents []*domain.Agent
	if err := r.db.WithContext(ctx).
		Where("current_status = ?", domain.AgentStatusAvailable).
		Order("agent_id asc").
		Find(&agents).Error; err != nil {
		return nil, err
	}
	out := agents[:0]
	for _, a := range agents {
		if covers(a, reqs) {
			out = append(out, a)
		}
	}
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

func (r *Registry) CompareAndUpdate(ctx context.Context, agent *domain.Agent, expectedVersion int64) error {
	cp := agent.Clone()
	cp.Version = expectedVersion + 1
	res := r.db.WithContext(ctx).
		Model(&domain.Agent{}).
		Where("agent_id = ? AND version = ?", cp.ID, expectedVersion).
		Updates(map[string]interface{}{
			"current_status":   cp.Status,
			"current_workload": cp.Workload,
			"capabilities":     cp.Capabilities,
			"cost_per_hour":    cp.CostPerHour,
			"safety_rating":    cp.SafetyRating,
			"location":         cp.Location,
			"last_heartbeat":   cp.LastHeartbeat,
			"version":          cp.Version,
			"updated_at":       gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("agent %s: %w", cp.ID, domain.ErrStaleAgent)
	}
	return nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&domain.Agent{}, "agent_id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *Registry) Signature(ctx context.Context) (string, error) {
	type row struct {
		AgentID       string
		CurrentStatus string
		Version       int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&domain.Agent{}).
		Select("agent_id", "current_status", "version").
		Order("agent_id asc").
		Scan(&rows).Error; err != nil {
		return "", err
	}
	h := fnv.New64a()
	for _, rw := range rows {
		fmt.Fprintf(h, "%s:%s:%d|", rw.AgentID, rw.CurrentStatus, rw.Version)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// DB exposes the underlying gorm handle for health checks.
func (r *Registry) DB() *gorm.DB {
	return r.db
}
