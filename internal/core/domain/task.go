package domain

import "fmt"

type Priority string

// Priority tiers, ordered strictest first. Each tier fixes a target
// decision latency in the router.
const (
	PrioritySafetyCritical     Priority = "safety_critical"
	PriorityQualityCritical    Priority = "quality_critical"
	PriorityEfficiencyCritical Priority = "efficiency_critical"
	PriorityStandard           Priority = "standard"
)

func (p Priority) Valid() bool {
	switch p {
	case PrioritySafetyCritical, PriorityQualityCritical, PriorityEfficiencyCritical, PriorityStandard:
		return true
	}
	return false
}

// Requirement is one capability demand of a task. The minimum proficiency is
// a hard floor; the weight expresses relative importance among met
// requirements and is normalized before scoring.
type Requirement struct {
	Type           string  `json:"requirement_type"`
	MinProficiency float64 `json:"minimum_proficiency"`
	Weight         float64 `json:"weight"`
}

// Task is immutable once submitted and exists only for the duration of one
// routing decision.
type Task struct {
	ID                string        `json:"task_id"`
	Type              string        `json:"task_type"`
	Priority          Priority      `json:"priority"`
	Requirements      []Requirement `json:"requirements"`
	EstimatedDuration float64       `json:"estimated_duration_sec"`
	ComplexityScore   float64       `json:"complexity_score"`
	SafetyCritical    bool          `json:"safety_critical"`
}

// IsSafetyCritical is true when either the flag or the priority tier marks
// the task safety-critical; both forms trigger the safety gate and the
// cache bypass.
func (t *Task) IsSafetyCritical() bool {
	return t.SafetyCritical || t.Priority == PrioritySafetyCritical
}

func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: task_id is required", ErrValidation)
	}
	if t.Type == "" {
		return fmt.Errorf("%w: task_type is required", ErrValidation)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, t.Priority)
	}
	if t.ComplexityScore < 0 || t.ComplexityScore > 1 {
		return fmt.Errorf("%w: complexity_score must be in [0,1]", ErrValidation)
	}
	if t.EstimatedDuration < 0 {
		return fmt.Errorf("%w: estimated_duration_sec must be >= 0", ErrValidation)
	}
	for i, r := range t.Requirements {
		if r.Type == "" {
			return fmt.Errorf("%w: requirements[%d] requirement_type is required", ErrValidation, i)
		}
		if r.MinProficiency < 0 || r.MinProficiency > 1 {
			return fmt.Errorf("%w: requirements[%d] minimum_proficiency must be in [0,1]", ErrValidation, i)
		}
		if r.Weight < 0 {
			return fmt.Errorf("%w: requirements[%d] weight must be >= 0", ErrValidation, i)
		}
	}
	return nil
}
