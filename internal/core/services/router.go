package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskmesh.route/internal/core/domain"
	"taskmesh.route/internal/core/logger"
	"taskmesh.route/internal/core/ports"
	"taskmesh.route/internal/core/tracing"
)

// Options tunes the router. Zero values fall back to defaults.
type Options struct {
	Budgets           map[domain.Priority]time.Duration
	Weights           map[domain.Priority]ObjectiveWeights
	SafetyFloor       float64
	CostCeiling       float64
	CloudTimeout      time.Duration
	CloudRetries      int
	BulkMaxConcurrent int
	HistorySize       int
}

// Router is the latency-tier routing engine: it classifies tasks by priority
// into a latency budget and walks the venue ladder (decision cache,
// last-known-good fallback, full local computation, cloud escalation) so
// selection never silently overruns its budget.
type Router struct {
	registry ports.AgentRegistry
	cache    ports.DecisionCache
	cloud    ports.CloudEscalator
	bus      ports.EventBus
	escLog   ports.EscalationLog
	selector *Selector
	gate     *SafetyGate
	history  *DecisionHistory

	budgets      map[domain.Priority]time.Duration
	cloudTimeout time.Duration
	cloudRetries int
	bulkMax      int
}

func NewRouter(registry ports.AgentRegistry, cache ports.DecisionCache, cloud ports.CloudEscalator, bus ports.EventBus, escLog ports.EscalationLog, opts Options) *Router {
	budgets := opts.Budgets
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	cloudTimeout := opts.CloudTimeout
	if cloudTimeout <= 0 {
		cloudTimeout = 1000 * time.Millisecond
	}
	cloudRetries := opts.CloudRetries
	if cloudRetries <= 0 {
		cloudRetries = 1
	}
	bulkMax := opts.BulkMaxConcurrent
	if bulkMax <= 0 {
		bulkMax = 8
	}
	return &Router{
		registry:     registry,
		cache:        cache,
		cloud:        cloud,
		bus:          bus,
		escLog:       escLog,
		selector:     NewSelector(opts.Weights, opts.CostCeiling),
		gate:         NewSafetyGate(opts.SafetyFloor),
		history:      NewDecisionHistory(opts.HistorySize),
		budgets:      budgets,
		cloudTimeout: cloudTimeout,
		cloudRetries: cloudRetries,
		bulkMax:      bulkMax,
	}
}

// Route computes one routing decision for the task. NO_ASSIGNMENT is a valid
// decision, not an error; errors are reserved for validation failures,
// caller cancellation and fatal safety-critical budget overruns.
func (r *Router) Route(ctx context.Context, task *domain.Task) (*domain.Decision, error) {
	started := time.Now()
	if task == nil {
		return nil, fmt.Errorf("%w: task is required", domain.ErrValidation)
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "router.route")
	defer span.End()

	budget := r.budgetFor(task.Priority)
	safety := task.IsSafetyCritical()

	// Safety-critical tasks bypass the cache entirely, both read and write:
	// a reused decision must never dodge the safety gate.
	fingerprint := ""
	if !safety {
		if sig, err := r.registry.Signature(ctx); err == nil {
			fingerprint = Fingerprint(task, sig)
			if cached, ok := r.cache.Lookup(ctx, fingerprint); ok {
				cacheHits.Inc()
				d := cached.Clone()
				d.Timestamp = time.Now().UTC()
				r.history.Add(d)
				return d, nil
			}
			cacheMisses.Inc()
		}
	}

	d, fresh, err := r.computeLocal(ctx, task, started, budget, fingerprint)
	if err != nil {
		if errors.Is(err, domain.ErrRoutingTimeout) || ctx.Err() != nil {
			return nil, err
		}
		if safety {
			// No remote rescue for safety-critical work: the cloud round trip
			// cannot fit the tier budget.
			return nil, fmt.Errorf("%w: local computation failed for safety-critical task %s: %v",
				domain.ErrRoutingTimeout, task.ID, err)
		}
		d = r.escalate(ctx, task, started, err)
		fresh = false
	}

	if safety && time.Since(started) > budget {
		// A late safety decision is worse than none.
		return nil, fmt.Errorf("%w: task %s exceeded %s budget", domain.ErrRoutingTimeout, task.ID, budget)
	}

	d.ProcessingMS = float64(time.Since(started).Microseconds()) / 1000.0

	if fresh && fingerprint != "" {
		r.cache.Store(ctx, fingerprint, d)
	}
	r.history.Add(d)
	if r.bus != nil {
		if perr := r.bus.PublishDecision(ctx, d); perr != nil {
			logger.Warn("failed to publish decision", "decision_id", d.ID, "error", perr)
		}
	}
	return d, nil
}

// computeLocal runs eligibility, scoring, ranking, the safety gate and the
// optimistic workload claim. fresh reports whether the decision was computed
// now (cacheable) as opposed to replayed from the last-known-good fallback.
func (r *Router) computeLocal(ctx context.Context, task *domain.Task, started time.Time, budget time.Duration, fingerprint string) (d *domain.Decision, fresh bool, err error) {
	safety := task.IsSafetyCritical()
	reasoning := []string{}

	agents, err := r.registry.ListEligible(ctx, task.Requirements)
	if err != nil {
		return nil, false, fmt.Errorf("list eligible agents: %w", err)
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, false, cerr
	}

	if time.Since(started) > budget {
		if safety {
			return nil, false, fmt.Errorf("%w: task %s exceeded %s budget before selection",
				domain.ErrRoutingTimeout, task.ID, budget)
		}
		// Rule-based fallback: replay the last known good decision for this
		// fingerprint, even if its TTL lapsed.
		if fingerprint != "" {
			if stale, ok := r.cache.Stale(ctx, fingerprint); ok {
				degradedDecisions.Inc()
				out := stale.Clone()
				out.Timestamp = time.Now().UTC()
				out.Reasoning = append(out.Reasoning,
					fmt.Sprintf("budget %s exceeded, reused last known good decision", budget))
				return out, false, nil
			}
		}
		reasoning = append(reasoning, fmt.Sprintf("budget %s exceeded, continuing with full computation", budget))
	}

	// One full re-selection is allowed when the optimistic claim observes a
	// stale snapshot; after that, stale candidates are skipped in rank order.
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			agents, err = r.registry.ListEligible(ctx, task.Requirements)
			if err != nil {
				return nil, false, fmt.Errorf("list eligible agents: %w", err)
			}
		}

		candidates := make([]Candidate, 0, len(agents))
		rejected := 0
		for _, a := range agents {
			rs := ScoreRequirements(task, a)
			if rs.Rejected {
				rejected++
				continue
			}
			candidates = append(candidates, Candidate{Agent: a, RequirementScore: rs.Score})
		}
		if attempt == 0 && rejected > 0 {
			reasoning = append(reasoning, fmt.Sprintf("%d of %d candidates rejected on requirement floors", rejected, len(agents)))
		}

		ranked := r.selector.Rank(task, candidates)
		if len(ranked) == 0 {
			reasoning = append(reasoning, "no eligible agent")
			return r.noAssignment(task, reasoning), true, nil
		}

		vetoed := 0
		for _, cand := range ranked {
			if cerr := ctx.Err(); cerr != nil {
				return nil, false, cerr
			}
			if safety {
				if ok, reason := r.gate.Check(cand.Agent); !ok {
					safetyVetoes.Inc()
					reasoning = append(reasoning, "safety gate veto: "+reason)
					vetoed++
					continue
				}
			}
			claimed, stale := r.claim(ctx, task, cand.Agent, attempt == 0)
			if stale && attempt == 0 {
				reasoning = append(reasoning, fmt.Sprintf("agent %s snapshot stale, retrying selection", cand.Agent.ID))
				break
			}
			if !claimed {
				reasoning = append(reasoning, fmt.Sprintf("agent %s unavailable at finalize, trying next ranked", cand.Agent.ID))
				continue
			}
			reasoning = append(reasoning, fmt.Sprintf("selected agent %s (combined score %.3f)", cand.Agent.ID, cand.Combined))
			return &domain.Decision{
				ID:                 uuid.New().String(),
				TaskID:             task.ID,
				AgentID:            cand.Agent.ID,
				Location:           domain.LocationEdge,
				Confidence:         cand.Combined,
				OptimizationScores: cand.Scores,
				Reasoning:          reasoning,
				Timestamp:          time.Now().UTC(),
			}, true, nil
		}
		if vetoed == len(ranked) {
			reasoning = append(reasoning, "failed safety gate")
			return r.noAssignment(task, reasoning), true, nil
		}
	}

	reasoning = append(reasoning, "no eligible agent")
	return r.noAssignment(task, reasoning), true, nil
}

// claim re-validates the candidate against the live registry and books the
// task's workload slot with a compare-and-update. stale is true when the
// snapshot version no longer matches. While a re-selection is still
// available, a stale snapshot returns unclaimed before any slot is booked;
// on the final attempt the claim proceeds against the re-validated row so a
// lagging snapshot cannot leave a booked slot behind a discarded decision.
func (r *Router) claim(ctx context.Context, task *domain.Task, snapshot *domain.Agent, reselect bool) (claimed, stale bool) {
	fresh, err := r.registry.Get(ctx, snapshot.ID)
	if err != nil {
		return false, false
	}
	if fresh.Version != snapshot.Version {
		stale = true
		if reselect {
			return false, true
		}
	}
	slot := workloadCost(task)
	if !fresh.Available() || fresh.Workload+slot > 1.0+1e-9 {
		return false, stale
	}
	update := fresh.Clone()
	update.Workload = clamp01(fresh.Workload + slot)
	if update.Workload >= 0.999 {
		update.Status = domain.AgentStatusBusy
	}
	if err := r.registry.CompareAndUpdate(ctx, update, fresh.Version); err != nil {
		if errors.Is(err, domain.ErrStaleAgent) {
			return false, true
		}
		return false, false
	}
	return true, stale
}

// workloadCost is the share of an agent's capacity one task books. More
// complex tasks book a larger share.
func workloadCost(task *domain.Task) float64 {
	if task.ComplexityScore <= 0 {
		return 0.25
	}
	if task.ComplexityScore < 0.05 {
		return 0.05
	}
	return task.ComplexityScore
}

func (r *Router) noAssignment(task *domain.Task, reasoning []string) *domain.Decision {
	return &domain.Decision{
		ID:                 uuid.New().String(),
		TaskID:             task.ID,
		Location:           domain.LocationEdge,
		OptimizationScores: map[string]float64{},
		Reasoning:          reasoning,
		Timestamp:          time.Now().UTC(),
	}
}

// escalate forwards the task to the cloud venue after local computation
// failed. It retries once with the same bounded timeout; a second failure is
// reported as NO_ASSIGNMENT with the escalation failure in the reasoning.
func (r *Router) escalate(ctx context.Context, task *domain.Task, started time.Time, cause error) *domain.Decision {
	reasoning := []string{fmt.Sprintf("local computation failed: %v", cause)}
	if r.cloud == nil {
		reasoning = append(reasoning, "no cloud venue configured", "no eligible agent")
		return r.noAssignment(task, reasoning)
	}

	var lastErr error
	for attempt := 0; attempt <= r.cloudRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.cloudTimeout)
		d, err := r.cloud.Escalate(callCtx, task)
		cancel()
		if err == nil {
			escalations.WithLabelValues("ok").Inc()
			d.Location = domain.LocationCloud
			d.Reasoning = append(reasoning, d.Reasoning...)
			d.Reasoning = append(d.Reasoning, "escalated to cloud venue")
			if d.ID == "" {
				d.ID = uuid.New().String()
			}
			if d.TaskID == "" {
				d.TaskID = task.ID
			}
			return d
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	escalations.WithLabelValues("failed").Inc()
	wrapped := fmt.Errorf("%w: %v", domain.ErrCloudEscalation, lastErr)
	logger.Error("cloud escalation failed", "task_id", task.ID, "error", wrapped)
	if r.escLog != nil {
		if rerr := r.escLog.Record(ctx, task, wrapped.Error()); rerr != nil {
			logger.Warn("failed to record escalation failure", "task_id", task.ID, "error", rerr)
		}
	}
	reasoning = append(reasoning, wrapped.Error(), "no eligible agent")
	return r.noAssignment(task, reasoning)
}

func (r *Router) budgetFor(p domain.Priority) time.Duration {
	if b, ok := r.budgets[p]; ok {
		return b
	}
	return 500 * time.Millisecond
}

// BulkOptions controls routeBulk concurrency and failure behavior.
type BulkOptions struct {
	MaxConcurrent int  `json:"max_concurrent"`
	FailFast      bool `json:"fail_fast"`
}

// BulkResult aggregates the outcome of a bulk routing call. Decisions holds
// one entry per successfully routed task, in submission order; Errors holds
// one entry per failed task.
type BulkResult struct {
	Decisions       []*domain.Decision `json:"decisions"`
	Successful      int                `json:"successful"`
	Failed          int                `json:"failed"`
	AvgProcessingMS float64            `json:"avg_processing_time_ms"`
	Errors          []string           `json:"errors,omitempty"`
}

// RouteBulk routes tasks with bounded concurrency. A failure in one task
// never aborts the others unless FailFast is set.
func (r *Router) RouteBulk(ctx context.Context, tasks []*domain.Task, opts BulkOptions) (*BulkResult, error) {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = r.bulkMax
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type slot struct {
		decision *domain.Decision
		err      error
	}
	results := make([]slot, len(tasks))
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task *domain.Task) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = slot{err: ctx.Err()}
				return
			}
			d, err := r.Route(ctx, task)
			results[i] = slot{decision: d, err: err}
			if err != nil && opts.FailFast {
				cancel()
			}
		}(i, task)
	}
	wg.Wait()

	out := &BulkResult{}
	totalMS := 0.0
	for i, res := range results {
		if res.err != nil {
			out.Failed++
			taskID := ""
			if tasks[i] != nil {
				taskID = tasks[i].ID
			}
			out.Errors = append(out.Errors, fmt.Sprintf("task %s: %v", taskID, res.err))
			continue
		}
		out.Successful++
		out.Decisions = append(out.Decisions, res.decision)
		totalMS += res.decision.ProcessingMS
	}
	if out.Successful > 0 {
		out.AvgProcessingMS = totalMS / float64(out.Successful)
	}
	return out, nil
}

// UpdateAgent applies a fleet status change to a known agent. Unknown agents
// report domain.ErrNotFound.
func (r *Router) UpdateAgent(ctx context.Context, agent *domain.Agent) error {
	if agent == nil {
		return fmt.Errorf("%w: agent is required", domain.ErrValidation)
	}
	if err := agent.Validate(); err != nil {
		return err
	}
	if _, err := r.registry.Get(ctx, agent.ID); err != nil {
		return err
	}
	return r.registry.Upsert(ctx, agent)
}

// RecentDecisions returns up to limit finalized decisions, newest first.
func (r *Router) RecentDecisions(limit int) []*domain.Decision {
	return r.history.Recent(limit)
}

// RegisterAgent adds or replaces an agent in the registry.
func (r *Router) RegisterAgent(ctx context.Context, agent *domain.Agent) error {
	if agent == nil {
		return fmt.Errorf("%w: agent is required", domain.ErrValidation)
	}
	if err := agent.Validate(); err != nil {
		return err
	}
	return r.registry.Upsert(ctx, agent)
}
