package services

import (
	"fmt"

	"taskmesh.route/internal/core/domain"
)

// RequirementScore is the outcome of matching one candidate agent against a
// task's requirement list.
type RequirementScore struct {
	Score    float64
	Rejected bool
	Reason   string
}

// ScoreRequirements applies every requirement of the task to the candidate.
// A missing capability or a proficiency below the minimum is a hard
// rejection: floors are safety/quality gates, not negotiable trade-offs.
// Satisfied requirements contribute proficiency, discounted by assessment
// confidence, into a weight-normalized sum in [0,1].
func ScoreRequirements(task *domain.Task, agent *domain.Agent) RequirementScore {
	if len(task.Requirements) == 0 {
		return RequirementScore{Score: 1.0}
	}

	totalWeight := 0.0
	for _, r := range task.Requirements {
		totalWeight += r.Weight
	}

	weighted := 0.0
	for _, r := range task.Requirements {
		capability, ok := agent.Capabilities[r.Type]
		if !ok {
			return RequirementScore{
				Rejected: true,
				Reason:   fmt.Sprintf("missing capability %q", r.Type),
			}
		}
		if capability.Proficiency < r.MinProficiency {
			return RequirementScore{
				Rejected: true,
				Reason: fmt.Sprintf("capability %q proficiency %.2f below minimum %.2f",
					r.Type, capability.Proficiency, r.MinProficiency),
			}
		}
		w := r.Weight
		if totalWeight <= 0 {
			// All-zero weights mean equal importance.
			w = 1.0
		}
		weighted += capability.Proficiency * capability.Confidence * w
	}

	denom := totalWeight
	if denom <= 0 {
		denom = float64(len(task.Requirements))
	}
	return RequirementScore{Score: clamp01(weighted / denom)}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
