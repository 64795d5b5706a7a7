package services

import (
	"sort"

	"taskmesh.route/internal/core/domain"
)

// ObjectiveWeights is the priority-tier weighting of the four selection
// objectives. Weights are expected to sum to 1.
type ObjectiveWeights struct {
	Requirement  float64 `yaml:"requirement"`
	Cost         float64 `yaml:"cost"`
	Safety       float64 `yaml:"safety"`
	Availability float64 `yaml:"availability"`
}

// DefaultWeights returns the per-tier objective weighting. Safety-critical
// tiers bias toward safety rating, quality tiers toward requirement match,
// efficiency tiers toward cost and free capacity.
func DefaultWeights() map[domain.Priority]ObjectiveWeights {
	return map[domain.Priority]ObjectiveWeights{
		domain.PrioritySafetyCritical:     {Requirement: 0.3, Cost: 0.1, Safety: 0.5, Availability: 0.1},
		domain.PriorityQualityCritical:    {Requirement: 0.5, Cost: 0.15, Safety: 0.2, Availability: 0.15},
		domain.PriorityEfficiencyCritical: {Requirement: 0.3, Cost: 0.3, Safety: 0.1, Availability: 0.3},
		domain.PriorityStandard:           {Requirement: 0.25, Cost: 0.25, Safety: 0.25, Availability: 0.25},
	}
}

// Candidate pairs an agent snapshot with its requirement score.
type Candidate struct {
	Agent            *domain.Agent
	RequirementScore float64
}

// Ranked is one fully scored candidate in selection order.
type Ranked struct {
	Agent    *domain.Agent
	Combined float64
	Scores   map[string]float64
}

type Selector struct {
	weights     map[domain.Priority]ObjectiveWeights
	costCeiling float64
}

func NewSelector(weights map[domain.Priority]ObjectiveWeights, costCeiling float64) *Selector {
	if weights == nil {
		weights = DefaultWeights()
	}
	if costCeiling <= 0 {
		costCeiling = 100.0
	}
	return &Selector{weights: weights, costCeiling: costCeiling}
}

// Rank combines the objectives into a single score per candidate and returns
// candidates best first. Ordering is fully deterministic: combined score,
// then requirement score, then lowest cost, then lexicographic agent id.
func (s *Selector) Rank(task *domain.Task, candidates []Candidate) []Ranked {
	w, ok := s.weights[task.Priority]
	if !ok {
		w = s.weights[domain.PriorityStandard]
	}

	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		scores := map[string]float64{
			domain.ObjectiveRequirement:  c.RequirementScore,
			domain.ObjectiveCost:         s.costScore(c.Agent.CostPerHour),
			domain.ObjectiveSafety:       c.Agent.SafetyRating,
			domain.ObjectiveAvailability: clamp01(1 - c.Agent.Workload),
		}
		combined := w.Requirement*scores[domain.ObjectiveRequirement] +
			w.Cost*scores[domain.ObjectiveCost] +
			w.Safety*scores[domain.ObjectiveSafety] +
			w.Availability*scores[domain.ObjectiveAvailability]
		ranked = append(ranked, Ranked{Agent: c.Agent, Combined: combined, Scores: scores})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Combined != b.Combined {
			return a.Combined > b.Combined
		}
		ra := a.Scores[domain.ObjectiveRequirement]
		rb := b.Scores[domain.ObjectiveRequirement]
		if ra != rb {
			return ra > rb
		}
		if a.Agent.CostPerHour != b.Agent.CostPerHour {
			return a.Agent.CostPerHour < b.Agent.CostPerHour
		}
		return a.Agent.ID < b.Agent.ID
	})
	return ranked
}

// costScore normalizes against a fixed ceiling rather than the candidate
// pool, so a candidate's score does not depend on who else is in the pool.
func (s *Selector) costScore(costPerHour float64) float64 {
	if costPerHour >= s.costCeiling {
		return 0
	}
	return clamp01(1 - costPerHour/s.costCeiling)
}
