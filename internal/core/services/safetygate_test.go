package services

import (
	"strings"
	"testing"

	"taskmesh.route/internal/core/domain"
)

func TestSafetyGateVetoBelowFloor(t *testing.T) {
	gate := NewSafetyGate(0.9)
	agent := &domain.Agent{
		ID:           "robot-low",
		Status:       domain.AgentStatusAvailable,
		SafetyRating: 0.89,
	}
	ok, reason := gate.Check(agent)
	if ok {
		t.Fatalf("expected veto for rating below floor")
	}
	if !strings.Contains(reason, "below floor") {
		t.Fatalf("unexpected veto reason: %s", reason)
	}
}

func TestSafetyGateVetoUnavailable(t *testing.T) {
	gate := NewSafetyGate(0.9)
	agent := &domain.Agent{
		ID:           "robot-busy",
		Status:       domain.AgentStatusBusy,
		SafetyRating: 0.99,
	}
	ok, reason := gate.Check(agent)
	if ok {
		t.Fatalf("expected veto for unavailable agent")
	}
	if !strings.Contains(reason, "no longer available") {
		t.Fatalf("unexpected veto reason: %s", reason)
	}
}

func TestSafetyGatePassAtFloor(t *testing.T) {
	gate := NewSafetyGate(0.9)
	agent := &domain.Agent{
		ID:           "robot-ok",
		Status:       domain.AgentStatusAvailable,
		SafetyRating: 0.9,
	}
	if ok, reason := gate.Check(agent); !ok {
		t.Fatalf("rating at the floor must pass, got veto: %s", reason)
	}
}

func TestSafetyGateDefaultsFloor(t *testing.T) {
	if f := NewSafetyGate(0).Floor(); f != 0.9 {
		t.Fatalf("default floor = %f, want 0.9", f)
	}
	if f := NewSafetyGate(1.5).Floor(); f != 0.9 {
		t.Fatalf("out-of-range floor = %f, want 0.9", f)
	}
}
