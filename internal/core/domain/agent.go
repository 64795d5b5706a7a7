package domain

import (
	"fmt"
	"time"
)

type AgentType string

const (
	AgentTypeRobot    AgentType = "robot"
	AgentTypeHuman    AgentType = "human"
	AgentTypeAISystem AgentType = "ai_system"
	AgentTypeHybrid   AgentType = "hybrid"
)

type AgentStatus string

const (
	AgentStatusAvailable   AgentStatus = "available"
	AgentStatusBusy        AgentStatus = "busy"
	AgentStatusMaintenance AgentStatus = "maintenance"
	AgentStatusOffline     AgentStatus = "offline"
)

// Capability is a named skill with a proficiency and an assessment confidence.
type Capability struct {
	Proficiency  float64   `json:"proficiency"`
	Confidence   float64   `json:"confidence"`
	LastAssessed time.Time `json:"last_assessed"`
}

type Agent struct {
	ID            string                `json:"agent_id" gorm:"primaryKey;column:agent_id"`
	Type          AgentType             `json:"agent_type" gorm:"column:agent_type"`
	Capabilities  map[string]Capability `json:"capabilities" gorm:"serializer:json"`
	Status        AgentStatus           `json:"current_status" gorm:"column:current_status"`
	Location      string                `json:"location"`
	CostPerHour   float64               `json:"cost_per_hour"`
	SafetyRating  float64               `json:"safety_rating"`
	Workload      float64               `json:"current_workload" gorm:"column:current_workload"`
	Version       int64                 `json:"version"` // bumped on every mutation, checked on optimistic re-validation
	LastHeartbeat time.Time             `json:"last_heartbeat"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func (Agent) TableName() string {
	return "agents"
}

func (a *Agent) Available() bool {
	return a.Status == AgentStatusAvailable
}

// Validate rejects malformed agents. Unknown enum values are an error,
// never coerced.
func (a *Agent) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	switch a.Type {
	case AgentTypeRobot, AgentTypeHuman, AgentTypeAISystem, AgentTypeHybrid:
	default:
		return fmt.Errorf("%w: unknown agent_type %q", ErrValidation, a.Type)
	}
	switch a.Status {
	case AgentStatusAvailable, AgentStatusBusy, AgentStatusMaintenance, AgentStatusOffline:
	default:
		return fmt.Errorf("%w: unknown current_status %q", ErrValidation, a.Status)
	}
	if a.CostPerHour < 0 {
		return fmt.Errorf("%w: cost_per_hour must be >= 0", ErrValidation)
	}
	if a.SafetyRating < 0 || a.SafetyRating > 1 {
		return fmt.Errorf("%w: safety_rating must be in [0,1]", ErrValidation)
	}
	if a.Workload < 0 || a.Workload > 1 {
		return fmt.Errorf("%w: current_workload must be in [0,1]", ErrValidation)
	}
	for name, capability := range a.Capabilities {
		if capability.Proficiency < 0 || capability.Proficiency > 1 {
			return fmt.Errorf("%w: capability %q proficiency must be in [0,1]", ErrValidation, name)
		}
		if capability.Confidence < 0 || capability.Confidence > 1 {
			return fmt.Errorf("%w: capability %q confidence must be in [0,1]", ErrValidation, name)
		}
	}
	return nil
}

// Clone returns a deep copy so registry snapshots can be handed out without
// sharing the capabilities map.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Capabilities = make(map[string]Capability, len(a.Capabilities))
	for k, v := range a.Capabilities {
		cp.Capabilities[k] = v
	}
	return &cp
}
