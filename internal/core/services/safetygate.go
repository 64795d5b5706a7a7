package services

import (
	"fmt"

	"taskmesh.route/internal/core/domain"
)

// SafetyGate is the post-selection check for safety-critical dispatch. It
// can veto a selection but never substitutes a lower-rated agent itself; the
// router walks down the ranking instead.
type SafetyGate struct {
	floor float64
}

func NewSafetyGate(floor float64) *SafetyGate {
	if floor <= 0 || floor > 1 {
		floor = 0.9
	}
	return &SafetyGate{floor: floor}
}

func (g *SafetyGate) Floor() float64 {
	return g.floor
}

// Check verifies the chosen agent meets the safety-rating floor and is still
// available. It returns a veto reason when the check fails.
func (g *SafetyGate) Check(agent *domain.Agent) (bool, string) {
	if agent.SafetyRating < g.floor {
		return false, fmt.Sprintf("agent %s safety_rating %.2f below floor %.2f",
			agent.ID, agent.SafetyRating, g.floor)
	}
	if !agent.Available() {
		return false, fmt.Sprintf("agent %s no longer available (status %s)", agent.ID, agent.Status)
	}
	return true, ""
}
