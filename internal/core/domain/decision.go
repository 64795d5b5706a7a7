package domain

import "time"

type ExecutionLocation string

const (
	LocationEdge   ExecutionLocation = "edge"
	LocationCloud  ExecutionLocation = "cloud"
	LocationHybrid ExecutionLocation = "hybrid"
)

func (l ExecutionLocation) Valid() bool {
	switch l {
	case LocationEdge, LocationCloud, LocationHybrid:
		return true
	}
	return false
}

// Objective score names as they appear in Decision.OptimizationScores.
const (
	ObjectiveRequirement  = "requirement_score"
	ObjectiveCost         = "cost_score"
	ObjectiveSafety       = "safety_score"
	ObjectiveAvailability = "availability_score"
)

// Decision is the immutable outcome of one routing pass. AgentID is empty
// when no eligible agent survived scoring and the safety gate.
type Decision struct {
	ID                 string             `json:"decision_id"`
	TaskID             string             `json:"task_id"`
	AgentID            string             `json:"assigned_agent_id,omitempty"`
	Location           ExecutionLocation  `json:"execution_location"`
	Confidence         float64            `json:"confidence_score"`
	OptimizationScores map[string]float64 `json:"optimization_scores"`
	ProcessingMS       float64            `json:"processing_time_ms"`
	Reasoning          []string           `json:"reasoning"`
	Timestamp          time.Time          `json:"timestamp"`
}

func (d *Decision) Assigned() bool {
	return d.AgentID != ""
}

// Clone copies the decision so cached entries can be replayed without
// aliasing the stored maps and slices.
func (d *Decision) Clone() *Decision {
	cp := *d
	cp.OptimizationScores = make(map[string]float64, len(d.OptimizationScores))
	for k, v := range d.OptimizationScores {
		cp.OptimizationScores[k] = v
	}
	cp.Reasoning = append([]string(nil), d.Reasoning...)
	return &cp
}

// AgentAlert is published on the event bus when the fleet monitor observes a
// liveness transition.
type AgentAlert struct {
	AgentID   string    `json:"agent_id"`
	Event     string    `json:"event"` // "offline", "online"
	Timestamp time.Time `json:"timestamp"`
}
