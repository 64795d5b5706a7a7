package services

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"taskmesh.route/internal/core/domain"
)

// Profile is the operator-tunable part of the engine: tier latency budgets,
// objective weightings, the safety floor and the cost normalization ceiling.
// Values left zero in the file keep their defaults.
type Profile struct {
	SafetyFloor float64 `yaml:"safety_floor"`
	CostCeiling float64 `yaml:"cost_ceiling"`

	BudgetsMS map[string]int64 `yaml:"budgets_ms"`

	Weights map[string]ObjectiveWeights `yaml:"weights"`
}

// DefaultBudgets returns the per-tier decision latency targets.
func DefaultBudgets() map[domain.Priority]time.Duration {
	return map[domain.Priority]time.Duration{
		domain.PrioritySafetyCritical:     1 * time.Millisecond,
		domain.PriorityQualityCritical:    10 * time.Millisecond,
		domain.PriorityEfficiencyCritical: 100 * time.Millisecond,
		domain.PriorityStandard:           500 * time.Millisecond,
	}
}

// LoadProfile reads a YAML tuning file. An empty path yields a profile of
// pure defaults.
func LoadProfile(path string) (*Profile, error) {
	p := &Profile{}
	if path == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	if err := yaml.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("parse profile file: %w", err)
	}
	return p, nil
}

// Budgets merges the file's overrides onto the defaults.
func (p *Profile) Budgets() map[domain.Priority]time.Duration {
	out := DefaultBudgets()
	for tier, ms := range p.BudgetsMS {
		pr := domain.Priority(tier)
		if pr.Valid() && ms > 0 {
			out[pr] = time.Duration(ms) * time.Millisecond
		}
	}
	return out
}

// ObjectiveWeights merges the file's overrides onto the defaults.
func (p *Profile) ObjectiveWeights() map[domain.Priority]ObjectiveWeights {
	out := DefaultWeights()
	for tier, w := range p.Weights {
		pr := domain.Priority(tier)
		if pr.Valid() {
			out[pr] = w
		}
	}
	return out
}
