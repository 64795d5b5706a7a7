package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	cachemem "taskmesh.route/internal/adapters/cache/memory"
	regmem "taskmesh.route/internal/adapters/repository/memory"
	"taskmesh.route/internal/core/domain"
	"taskmesh.route/internal/core/ports"
)

type stubEscalator struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, task *domain.Task) (*domain.Decision, error)
}

func (s *stubEscalator) Escalate(ctx context.Context, task *domain.Task) (*domain.Decision, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(ctx, task)
}

func (s *stubEscalator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubBus struct {
	mu        sync.Mutex
	decisions []*domain.Decision
}

func (s *stubBus) PublishDecision(_ context.Context, d *domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return nil
}

func (s *stubBus) PublishAgentAlert(context.Context, domain.AgentAlert) error { return nil }

func (s *stubBus) SubscribeDecisions(context.Context) (<-chan domain.Decision, error) {
	return nil, nil
}

func (s *stubBus) SubscribeAgentAlerts(context.Context) (<-chan domain.AgentAlert, error) {
	return nil, nil
}

func (s *stubBus) published() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.decisions)
}

type stubEscalationLog struct {
	mu      sync.Mutex
	entries []ports.FailedEscalation
}

func (s *stubEscalationLog) Record(_ context.Context, task *domain.Task, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, ports.FailedEscalation{Task: task, Reason: reason, FailureTime: time.Now()})
	return nil
}

func (s *stubEscalationLog) List(context.Context, int64, int64) ([]ports.FailedEscalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.FailedEscalation(nil), s.entries...), nil
}

func (s *stubEscalationLog) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

// failingRegistry breaks eligibility listing so escalation paths can be
// exercised; everything else delegates.
type failingRegistry struct {
	ports.AgentRegistry
	err error
}

func (f *failingRegistry) ListEligible(context.Context, []domain.Requirement) ([]*domain.Agent, error) {
	return nil, f.err
}

// laggingRegistry hands out eligibility snapshots one version behind the
// stored row, the way a concurrent heartbeat or operator update leaves a
// selection pass working on outdated data.
type laggingRegistry struct {
	ports.AgentRegistry
}

func (l *laggingRegistry) ListEligible(ctx context.Context, reqs []domain.Requirement) ([]*domain.Agent, error) {
	agents, err := l.AgentRegistry.ListEligible(ctx, reqs)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		a.Version--
	}
	return agents, nil
}

// relaxedBudgets keeps functional tests off the real-time budgets so they do
// not flake on loaded machines.
func relaxedBudgets() map[domain.Priority]time.Duration {
	return map[domain.Priority]time.Duration{
		domain.PrioritySafetyCritical:     time.Second,
		domain.PriorityQualityCritical:    time.Second,
		domain.PriorityEfficiencyCritical: time.Second,
		domain.PriorityStandard:           time.Second,
	}
}

func fleetAgent(id string, prof, conf, safety, cost, workload float64) *domain.Agent {
	return &domain.Agent{
		ID:     id,
		Type:   domain.AgentTypeRobot,
		Status: domain.AgentStatusAvailable,
		Capabilities: map[string]domain.Capability{
			"welding": {Proficiency: prof, Confidence: conf, LastAssessed: time.Now()},
		},
		CostPerHour:  cost,
		SafetyRating: safety,
		Workload:     workload,
	}
}

func seedRegistry(t *testing.T, agents ...*domain.Agent) *regmem.Registry {
	t.Helper()
	reg := regmem.NewRegistry()
	for _, a := range agents {
		if err := reg.Upsert(context.Background(), a); err != nil {
			t.Fatalf("seed agent %s: %v", a.ID, err)
		}
	}
	return reg
}

func weldingTask(id string, priority domain.Priority, minProf float64) *domain.Task {
	return &domain.Task{
		ID:              id,
		Type:            "welding",
		Priority:        priority,
		ComplexityScore: 0.3,
		Requirements: []domain.Requirement{
			{Type: "welding", MinProficiency: minProf, Weight: 1},
		},
	}
}

func TestRouteValidation(t *testing.T) {
	router := NewRouter(regmem.NewRegistry(), cachemem.NewLRU(16, time.Minute), nil, nil, nil,
		Options{Budgets: relaxedBudgets()})

	cases := []struct {
		name string
		task *domain.Task
	}{
		{"nil task", nil},
		{"missing id", &domain.Task{Type: "welding", Priority: domain.PriorityStandard}},
		{"missing type", &domain.Task{ID: "t1", Priority: domain.PriorityStandard}},
		{"unknown priority", &domain.Task{ID: "t1", Type: "welding", Priority: "urgent"}},
		{"complexity out of range", &domain.Task{ID: "t1", Type: "welding", Priority: domain.PriorityStandard, ComplexityScore: 1.5}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := router.Route(context.Background(), c.task); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestRouteSafetyCriticalWeldingScenario(t *testing.T) {
	reg := seedRegistry(t,
		fleetAgent("robot-001", 0.95, 1.0, 0.95, 20, 0.1),
		fleetAgent("human-001", 0.85, 0.9, 0.99, 50, 0.3),
		fleetAgent("robot-002", 0.70, 1.0, 0.97, 15, 0.0), // below the proficiency floor
	)
	bus := &stubBus{}
	router := NewRouter(reg, cachemem.NewLRU(16, time.Minute), nil, bus, nil,
		Options{Budgets: relaxedBudgets()})

	d, err := router.Route(context.Background(), weldingTask("t1", domain.PrioritySafetyCritical, 0.8))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.AgentID != "robot-001" {
		t.Fatalf("assigned %s, want robot-001", d.AgentID)
	}
	if d.Confidence <= 0.85 {
		t.Fatalf("confidence = %f, want > 0.85", d.Confidence)
	}
	if d.Location != domain.LocationEdge {
		t.Fatalf("location = %s, want edge", d.Location)
	}
	if len(d.OptimizationScores) != 4 {
		t.Fatalf("optimization scores = %v", d.OptimizationScores)
	}
	if !strings.Contains(strings.Join(d.Reasoning, "; "), "selected agent robot-001") {
		t.Fatalf("reasoning = %v", d.Reasoning)
	}
	if bus.published() != 1 {
		t.Fatalf("published %d decisions, want 1", bus.published())
	}

	// The winner's workload slot is booked in the registry.
	fresh, err := reg.Get(context.Background(), "robot-001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := fresh.Workload - 0.4; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("workload after claim = %f, want 0.4", fresh.Workload)
	}
}

func TestRouteStandardAssemblyScenario(t *testing.T) {
	assemblyAgent := func(id string, precision, quality, cost, safety, workload float64) *domain.Agent {
		return &domain.Agent{
			ID:     id,
			Type:   domain.AgentTypeRobot,
			Status: domain.AgentStatusAvailable,
			Capabilities: map[string]domain.Capability{
				"precision_assembly": {Proficiency: precision, Confidence: 1.0},
				"quality_inspection": {Proficiency: quality, Confidence: 1.0},
			},
			CostPerHour:  cost,
			SafetyRating: safety,
			Workload:     workload,
		}
	}
	assemblyTask := func(precisionFloor float64) *domain.Task {
		return &domain.Task{
			ID:              "t1",
			Type:            "assembly",
			Priority:        domain.PriorityStandard,
			ComplexityScore: 0.1,
			Requirements: []domain.Requirement{
				{Type: "precision_assembly", MinProficiency: precisionFloor, Weight: 0.8},
				{Type: "quality_inspection", MinProficiency: 0.6, Weight: 0.2},
			},
		}
	}

	cases := []struct {
		name           string
		precisionFloor float64
		wantAgent      string
	}{
		{"robot wins on weighted requirement score and cost", 0.7, "robot-001"},
		{"raised floor rejects both", 0.99, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			reg := seedRegistry(t,
				assemblyAgent("robot-001", 0.95, 0.85, 10, 0.95, 0.05),
				assemblyAgent("human-001", 0.80, 0.90, 50, 0.99, 0.20),
			)
			router := NewRouter(reg, cachemem.NewLRU(16, time.Minute), nil, nil, nil,
				Options{Budgets: relaxedBudgets()})

			d, err := router.Route(context.Background(), assemblyTask(c.precisionFloor))
			if err != nil {
				t.Fatalf("Route: %v", err)
			}
			if d.AgentID != c.wantAgent {
				t.Fatalf("assigned %q, want %q", d.AgentID, c.wantAgent)
			}
			if c.wantAgent == "" {
				return
			}
			if d.Confidence <= 0.85 {
				t.Fatalf("confidence = %f, want > 0.85", d.Confidence)
			}
			// robot-001: (0.95*0.8 + 0.85*0.2) = 0.93 weighted requirement score.
			if diff := d.OptimizationScores[domain.ObjectiveRequirement] - 0.93; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("requirement score = %f, want 0.93", d.OptimizationScores[domain.ObjectiveRequirement])
			}
		})
	}
}

func TestRouteSafetyGateVetoFallsThroughRanking(t *testing.T) {
	// a-cheap outranks b-safe on the combined score but sits below the safety
	// floor; the gate must walk down to b-safe instead of failing the task.
	reg := seedRegistry(t,
		fleetAgent("a-cheap", 1.0, 1.0, 0.85, 0, 0),
		fleetAgent("b-safe", 0.85, 0.9, 0.92, 50, 0.5),
	)
	router := NewRouter(reg, cachemem.NewLRU(16, time.Minute), nil, nil, nil,
		Options{Budgets: relaxedBudgets()})

	d, err := router.Route(context.Background(), weldingTask("t1", domain.PrioritySafetyCritical, 0.8))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.AgentID != "b-safe" {
		t.Fatalf("assigned %s, want b-safe", d.AgentID)
	}
	joined := strings.Join(d.Reasoning, "; ")
	if !strings.Contains(joined, "safety gate veto") {
		t.Fatalf("reasoning missing veto note: %s", joined)
	}
}

func TestRouteAllVetoedIsNoAssignment(t *testing.T) {
	reg := seedRegistry(t,
		fleetAgent("low-1", 0.9, 1.0, 0.5, 10, 0),
		fleetAgent("low-2", 0.9, 1.0, 0.7, 10, 0),
	)
	router := NewRouter(reg, cachemem.NewLRU(16, time.Minute), nil, nil, nil,
		Options{Budgets: relaxedBudgets()})

	d, err := router.Route(context.Background(), weldingTask("t1", domain.PrioritySafetyCritical, 0.8))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Assigned() {
		t.Fatalf("expected no assignment, got agent %s", d.AgentID)
	}
	joined := strings.Join(d.Reasoning, "; ")
	if !strings.Contains(joined, "failed safety gate") {
		t.Fatalf("reasoning = %s", joined)
	}
}

func TestRouteImpossibleFloorIsNoAssignment(t *testing.T) {
	reg := seedRegistry(t, fleetAgent("robot-001", 0.95, 1.0, 0.95, 20, 0.1))
	router := NewRouter(reg, cachemem.NewLRU(16, time.Minute), nil, nil, nil,
		Options{Budgets: relaxedBudgets()})

	d, err := router.Route(context.Background(), weldingTask("t1", domain.PriorityStandard, 0.99))
	if err != nil {
		t.Fatalf("no assignment must not be an error, got %v", err)
	}
	if d.Assigned() {
		t.Fatalf("expected no assignment, got agent %s", d.AgentID)
	}
	if !strings.Contains(strings.Join(d.Reasoning, "; "), "no eligible agent") {
		t.Fatalf("reasoning = %v", d.Reasoning)
	}
}

func TestRouteSafetyCriticalBypassesCache(t *testing.T) {
	reg := seedRegistry(t, fleetAgent("robot-001", 0.95, 1.0, 0.95, 20, 0))
	cache := cachemem.NewLRU(16, time.Minute)
	router := NewRouter(reg, cache, nil, nil, nil, Options{Budgets: relaxedBudgets()})

	for i := 0; i < 2; i++ {
		task := weldingTask("t1", domain.PrioritySafetyCritical, 0.8)
		task.ComplexityScore = 0.1
		if _, err := router.Route(context.Background(), task); err != nil {
			t.Fatalf("Route #%d: %v", i, err)
		}
	}
	if cache.Len() != 0 {
		t.Fatalf("safety-critical decisions leaked into the cache: len = %d", cache.Len())
	}
}

func TestRouteCacheHitSkipsComputation(t *testing.T) {
	reg := seedRegistry(t, fleetAgent("robot-001", 0.95, 1.0, 0.95, 20, 0.1))
	cache := cachemem.NewLRU(16, time.Minute)
	router := NewRouter(reg, cache, nil, nil, nil, Options{Budgets: relaxedBudgets()})

	task := weldingTask("t1", domain.PriorityStandard, 0.8)
	sig, err := reg.Signature(context.Background())
	if err != nil {
		t.Fatalf("Signature: %v", err)
	}
	cached := &domain.Decision{
		ID:                 "cached-decision",
		TaskID:             "earlier-task",
		AgentID:            "robot-001",
		Location:           domain.LocationEdge,
		Confidence:         0.9,
		OptimizationScores: map[string]float64{},
		Timestamp:          time.Now().Add(-10 * time.Second),
	}
	cache.Store(context.Background(), Fingerprint(task, sig), cached)

	d, err := router.Route(context.Background(), task)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.ID != "cached-decision" || d.AgentID != "robot-001" {
		t.Fatalf("expected cached decision replay, got %+v", d)
	}
	if !d.Timestamp.After(cached.Timestamp) {
		t.Fatalf("replayed decision must carry a fresh timestamp")
	}

	// Replay must not book another workload slot.
	fresh, err := reg.Get(context.Background(), "robot-001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fresh.Workload != 0.1 {
		t.Fatalf("workload changed on cache hit: %f", fresh.Workload)
	}
}

func TestRouteCachesNoAssignmentDecisions(t *testing.T) {
	cache := cachemem.NewLRU(16, time.Minute)
	router := NewRouter(regmem.NewRegistry(), cache, nil, nil, nil,
		Options{Budgets: relaxedBudgets()})

	task := weldingTask("t1", domain.PriorityStandard, 0.8)
	first, err := router.Route(context.Background(), task)
	if err != nil {
		t.Fatalf("Route #1: %v", err)
	}
	second, err := router.Route(context.Background(), task)
	if err != nil {
		t.Fatalf("Route #2: %v", err)
	}
	if first.Assigned() || second.Assigned() {
		t.Fatalf("empty pool must not assign")
	}
	if first.ID != second.ID {
		t.Fatalf("second call should replay the cached decision: %s vs %s", first.ID, second.ID)
	}
	if cache.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", cache.Len())
	}
}

func TestRouteDeterministicAcrossIdenticalPools(t *testing.T) {
	task := weldingTask("t1", domain.PriorityQualityCritical, 0.6)

	var assigned []string
	for i := 0; i < 3; i++ {
		reg := seedRegistry(t,
			fleetAgent("gamma", 0.9, 0.95, 0.93, 30, 0.2),
			fleetAgent("alpha", 0.9, 0.95, 0.93, 30, 0.2),
			fleetAgent("beta", 0.8, 0.9, 0.95, 25, 0.1),
		)
		router := NewRouter(reg, cachemem.NewLRU(16, time.Minute), nil, nil, nil,
			Options{Budgets: relaxedBudgets()})
		d, err := router.Route(context.Background(), task)
		if err != nil {
			t.Fatalf("Route #%d: %v", i, err)
		}
		assigned = append(assigned, d.AgentID)
	}
	if assigned[0] == "" || assigned[0] != assigned[1] || assigned[1] != assigned[2] {
		t.Fatalf("identical pools produced different assignments: %v", assigned)
	}
}

func TestRouteConcurrentClaimsSingleSlot(t *testing.T) {
	// One agent with room for exactly one more task. Two concurrent routings
	// must never both claim it; the loser re-validates, sees the slot gone and
	// reports no assignment.
	agent := fleetAgent("solo", 0.95, 1.0, 0.95, 20, 0.8)
	reg := seedRegistry(t, agent)
	router := NewRouter(reg, cachemem.NewLRU(16, time.Minute), nil, nil, nil,
		Options{Budgets: relaxedBudgets()})

	decisions := make([]*domain.Decision, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := weldingTask("t-"+string(rune('a'+i)), domain.PrioritySafetyCritical, 0.8)
			task.ComplexityScore = 0.2
			decisions[i], errs[i] = router.Route(context.Background(), task)
		}(i)
	}
	wg.Wait()

	assigned := 0
	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("Route #%d: %v", i, errs[i])
		}
		if decisions[i].Assigned() {
			assigned++
		}
	}
	if assigned != 1 {
		t.Fatalf("assigned = %d tasks, want exactly 1", assigned)
	}

	fresh, err := reg.Get(context.Background(), "solo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fresh.Workload > 1.0 {
		t.Fatalf("workload overbooked: %f", fresh.Workload)
	}
}

func TestRouteStaleSnapshotBooksExactlyOneSlot(t *testing.T) {
	// A stale snapshot must never leave a booked slot behind a discarded
	// selection: the retry claims against the re-validated row, so one routed
	// task books exactly one workload slot.
	backing := seedRegistry(t, fleetAgent("solo", 0.95, 1.0, 0.95, 20, 0))
	reg := &laggingRegistry{AgentRegistry: backing}
	router := NewRouter(reg, cachemem.NewLRU(16, time.Minute), nil, nil, nil,
		Options{Budgets: relaxedBudgets()})

	task := weldingTask("t1", domain.PriorityStandard, 0.8)
	task.ComplexityScore = 0.25

	d, err := router.Route(context.Background(), task)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.AgentID != "solo" {
		t.Fatalf("assigned %s, want solo", d.AgentID)
	}

	fresh, err := backing.Get(context.Background(), "solo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := fresh.Workload - 0.25; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("one routed task booked workload %.2f, want 0.25", fresh.Workload)
	}
}

func TestRouteSafetyBudgetOverrunIsRoutingTimeout(t *testing.T) {
	reg := seedRegistry(t, fleetAgent("robot-001", 0.95, 1.0, 0.95, 20, 0))
	budgets := relaxedBudgets()
	budgets[domain.PrioritySafetyCritical] = time.Nanosecond
	router := NewRouter(reg, cachemem.NewLRU(16, time.Minute), nil, nil, nil,
		Options{Budgets: budgets})

	_, err := router.Route(context.Background(), weldingTask("t1", domain.PrioritySafetyCritical, 0.8))
	if !errors.Is(err, domain.ErrRoutingTimeout) {
		t.Fatalf("err = %v, want ErrRoutingTimeout", err)
	}
}

func TestRouteStandardBudgetOverrunReplaysLastKnownGood(t *testing.T) {
	reg := seedRegistry(t, fleetAgent("robot-001", 0.95, 1.0, 0.95, 20, 0.1))
	// TTL of one nanosecond: entries are immediately expired for Lookup but
	// remain reachable through the stale fallback.
	cache := cachemem.NewLRU(16, time.Nanosecond)
	budgets := relaxedBudgets()
	budgets[domain.PriorityStandard] = time.Nanosecond
	router := NewRouter(reg, cache, nil, nil, nil, Options{Budgets: budgets})

	task := weldingTask("t1", domain.PriorityStandard, 0.8)
	sig, err := reg.Signature(context.Background())
	if err != nil {
		t.Fatalf("Signature: %v", err)
	}
	cache.Store(context.Background(), Fingerprint(task, sig), &domain.Decision{
		ID:                 "lkg-decision",
		TaskID:             "earlier-task",
		AgentID:            "robot-001",
		Location:           domain.LocationEdge,
		OptimizationScores: map[string]float64{},
		Timestamp:          time.Now().Add(-time.Minute),
	})

	d, err := router.Route(context.Background(), task)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.ID != "lkg-decision" {
		t.Fatalf("expected last-known-good replay, got decision %s", d.ID)
	}
	if !strings.Contains(strings.Join(d.Reasoning, "; "), "last known good") {
		t.Fatalf("reasoning = %v", d.Reasoning)
	}
}

func TestRouteStandardBudgetOverrunWithoutFallbackStillComputes(t *testing.T) {
	reg := seedRegistry(t, fleetAgent("robot-001", 0.95, 1.0, 0.95, 20, 0))
	budgets := relaxedBudgets()
	budgets[domain.PriorityStandard] = time.Nanosecond
	router := NewRouter(reg, cachemem.NewLRU(16, time.Minute), nil, nil, nil,
		Options{Budgets: budgets})

	d, err := router.Route(context.Background(), weldingTask("t1", domain.PriorityStandard, 0.8))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.AgentID != "robot-001" {
		t.Fatalf("assigned %s, want robot-001", d.AgentID)
	}
	if !strings.Contains(strings.Join(d.Reasoning, "; "), "continuing with full computation") {
		t.Fatalf("reasoning = %v", d.Reasoning)
	}
}

func TestRouteEscalatesToCloudOnLocalFailure(t *testing.T) {
	reg := &failingRegistry{AgentRegistry: regmem.NewRegistry(), err: errors.New("registry partition")}
	cloud := &stubEscalator{fn: func(_ context.Context, task *domain.Task) (*domain.Decision, error) {
		return &domain.Decision{
			TaskID:             task.ID,
			AgentID:            "cloud-agent-7",
			Confidence:         0.8,
			OptimizationScores: map[string]float64{},
		}, nil
	}}
	router := NewRouter(reg, cachemem.NewLRU(16, time.Minute), cloud, nil, nil,
		Options{Budgets: relaxedBudgets()})

	d, err := router.Route(context.Background(), weldingTask("t1", domain.PriorityStandard, 0.8))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Location != domain.LocationCloud {
		t.Fatalf("location = %s, want cloud", d.Location)
	}
	if d.AgentID != "cloud-agent-7" {
		t.Fatalf("assigned %s", d.AgentID)
	}
	if d.ID == "" {
		t.Fatalf("escalated decision must carry an id")
	}
	if !strings.Contains(strings.Join(d.Reasoning, "; "), "escalated to cloud venue") {
		t.Fatalf("reasoning = %v", d.Reasoning)
	}
}

func TestRouteEscalationFailureIsNoAssignment(t *testing.T) {
	reg := &failingRegistry{AgentRegistry: regmem.NewRegistry(), err: errors.New("registry partition")}
	cloud := &stubEscalator{fn: func(context.Context, *domain.Task) (*domain.Decision, error) {
		return nil, errors.New("venue unreachable")
	}}
	escLog := &stubEscalationLog{}
	router := NewRouter(reg, cachemem.NewLRU(16, time.Minute), cloud, nil, escLog,
		Options{Budgets: relaxedBudgets(), CloudRetries: 1})

	d, err := router.Route(context.Background(), weldingTask("t1", domain.PriorityStandard, 0.8))
	if err != nil {
		t.Fatalf("escalation failure must yield a decision, got error %v", err)
	}
	if d.Assigned() {
		t.Fatalf("expected no assignment, got agent %s", d.AgentID)
	}
	joined := strings.Join(d.Reasoning, "; ")
	if !strings.Contains(joined, "cloud escalation failed") || !strings.Contains(joined, "no eligible agent") {
		t.Fatalf("reasoning = %s", joined)
	}
	if cloud.callCount() != 2 {
		t.Fatalf("escalator called %d times, want initial attempt plus one retry", cloud.callCount())
	}
	n, err := escLog.Count(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("escalation log count = %d (%v), want 1", n, err)
	}
}

func TestRouteSafetyCriticalNeverEscalates(t *testing.T) {
	reg := &failingRegistry{AgentRegistry: regmem.NewRegistry(), err: errors.New("registry partition")}
	cloud := &stubEscalator{fn: func(_ context.Context, task *domain.Task) (*domain.Decision, error) {
		return &domain.Decision{TaskID: task.ID, AgentID: "cloud-agent"}, nil
	}}
	router := NewRouter(reg, cachemem.NewLRU(16, time.Minute), cloud, nil, nil,
		Options{Budgets: relaxedBudgets()})

	_, err := router.Route(context.Background(), weldingTask("t1", domain.PrioritySafetyCritical, 0.8))
	if !errors.Is(err, domain.ErrRoutingTimeout) {
		t.Fatalf("err = %v, want ErrRoutingTimeout", err)
	}
	if cloud.callCount() != 0 {
		t.Fatalf("safety-critical task reached the cloud venue")
	}
}

func TestRouteBulkMixedOutcome(t *testing.T) {
	reg := seedRegistry(t,
		fleetAgent("a1", 0.95, 1.0, 0.95, 20, 0),
		fleetAgent("a2", 0.9, 1.0, 0.93, 25, 0),
		fleetAgent("a3", 0.85, 0.95, 0.92, 15, 0),
	)
	router := NewRouter(reg, cachemem.NewLRU(16, time.Minute), nil, nil, nil,
		Options{Budgets: relaxedBudgets()})

	tasks := []*domain.Task{
		weldingTask("bulk-1", domain.PriorityStandard, 0.6),
		weldingTask("bulk-2", domain.PriorityQualityCritical, 0.6),
		weldingTask("bulk-3", domain.PriorityEfficiencyCritical, 0.6),
		{ID: "bulk-bad", Type: "welding", Priority: "urgent"},
	}
	for i, task := range tasks[:3] {
		task.ComplexityScore = 0.1
		task.Type = "welding-" + string(rune('a'+i))
	}

	res, err := router.RouteBulk(context.Background(), tasks, BulkOptions{MaxConcurrent: 2})
	if err != nil {
		t.Fatalf("RouteBulk: %v", err)
	}
	if res.Successful != 3 || res.Failed != 1 {
		t.Fatalf("successful/failed = %d/%d, want 3/1", res.Successful, res.Failed)
	}
	if len(res.Decisions) != 3 {
		t.Fatalf("decisions = %d, want 3", len(res.Decisions))
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "bulk-bad") {
		t.Fatalf("errors = %v", res.Errors)
	}
}

func TestUpdateAgentUnknownIsNotFound(t *testing.T) {
	router := NewRouter(regmem.NewRegistry(), cachemem.NewLRU(16, time.Minute), nil, nil, nil,
		Options{Budgets: relaxedBudgets()})

	err := router.UpdateAgent(context.Background(), fleetAgent("ghost", 0.9, 1, 0.9, 10, 0))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRegisterAgentValidates(t *testing.T) {
	router := NewRouter(regmem.NewRegistry(), cachemem.NewLRU(16, time.Minute), nil, nil, nil,
		Options{Budgets: relaxedBudgets()})

	bad := fleetAgent("r1", 0.9, 1, 0.9, 10, 0)
	bad.Status = "sleeping"
	if err := router.RegisterAgent(context.Background(), bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	good := fleetAgent("r1", 0.9, 1, 0.9, 10, 0)
	if err := router.RegisterAgent(context.Background(), good); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
}
