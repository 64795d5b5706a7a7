package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"taskmesh.route/internal/core/domain"
	"taskmesh.route/internal/core/logger"
)

// fleetsim registers a demo fleet against a running routing server and
// submits a steady stream of tasks, printing the decisions it gets back.
func main() {
	serverURL := flag.String("server", "http://localhost:8080", "routing server base URL")
	fleetSize := flag.Int("fleet", 6, "number of demo agents to register")
	interval := flag.Duration("interval", 2*time.Second, "delay between task submissions")
	seed := flag.Int64("seed", 1, "random seed for task generation")
	flag.Parse()

	logger.Init(slog.LevelInfo, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 5 * time.Second}
	rng := rand.New(rand.NewSource(*seed))

	if err := registerFleet(ctx, client, *serverURL, *fleetSize, rng); err != nil {
		log.Fatalf("failed to register fleet: %v", err)
	}
	logger.Info("fleet registered", "agents", *fleetSize)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("fleetsim stopping")
			return
		case <-ticker.C:
			task := randomTask(rng)
			d, err := submit(ctx, client, *serverURL, task)
			if err != nil {
				logger.Error("route failed", "task_id", task.ID, "error", err)
				continue
			}
			logger.Info("decision",
				"task_id", d.TaskID,
				"agent_id", d.AgentID,
				"location", d.Location,
				"confidence", fmt.Sprintf("%.3f", d.Confidence),
				"processing_ms", fmt.Sprintf("%.3f", d.ProcessingMS),
			)
		}
	}
}

var capabilityNames = []string{
	"precision_assembly", "quality_inspection", "material_handling",
	"welding", "visual_anomaly_detection", "packaging",
}

var agentTypes = []domain.AgentType{
	domain.AgentTypeRobot, domain.AgentTypeHuman, domain.AgentTypeAISystem, domain.AgentTypeHybrid,
}

func registerFleet(ctx context.Context, client *http.Client, serverURL string, size int, rng *rand.Rand) error {
	for i := 0; i < size; i++ {
		agentType := agentTypes[i%len(agentTypes)]
		caps := make(map[string]domain.Capability, 4)
		for _, name := range capabilityNames {
			if rng.Float64() < 0.4 {
				continue
			}
			caps[name] = domain.Capability{
				Proficiency:  0.5 + rng.Float64()*0.5,
				Confidence:   0.8 + rng.Float64()*0.2,
				LastAssessed: time.Now().UTC(),
			}
		}
		agent := domain.Agent{
			ID:            fmt.Sprintf("%s-%03d", agentType, i+1),
			Type:          agentType,
			Capabilities:  caps,
			Status:        domain.AgentStatusAvailable,
			Location:      fmt.Sprintf("cell-%d", i%3+1),
			CostPerHour:   10 + rng.Float64()*60,
			SafetyRating:  0.7 + rng.Float64()*0.3,
			Workload:      rng.Float64() * 0.4,
			LastHeartbeat: time.Now().UTC(),
		}
		body, err := json.Marshal(agent)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/agents", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("register agent %s: unexpected status %d", agent.ID, resp.StatusCode)
		}
	}
	return nil
}

var priorities = []domain.Priority{
	domain.PriorityStandard, domain.PriorityStandard, domain.PriorityEfficiencyCritical,
	domain.PriorityQualityCritical, domain.PrioritySafetyCritical,
}

func randomTask(rng *rand.Rand) *domain.Task {
	priority := priorities[rng.Intn(len(priorities))]
	nReqs := 1 + rng.Intn(2)
	reqs := make([]domain.Requirement, 0, nReqs)
	for i := 0; i < nReqs; i++ {
		reqs = append(reqs, domain.Requirement{
			Type:           capabilityNames[rng.Intn(len(capabilityNames))],
			MinProficiency: 0.4 + rng.Float64()*0.3,
			Weight:         0.2 + rng.Float64()*0.8,
		})
	}
	return &domain.Task{
		ID:                "task-" + uuid.New().String(),
		Type:              "assembly_step",
		Priority:          priority,
		Requirements:      reqs,
		EstimatedDuration: 30 + rng.Float64()*300,
		ComplexityScore:   rng.Float64() * 0.5,
		SafetyCritical:    priority == domain.PrioritySafetyCritical,
	}
}

func submit(ctx context.Context, client *http.Client, serverURL string, task *domain.Task) (*domain.Decision, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/route", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return nil, fmt.Errorf("%s: %s", e.Code, e.Error)
	}
	var d domain.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}
