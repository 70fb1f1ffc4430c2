package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	applock "github.com/smilemakc/mbflow/internal/application/lock"
	"github.com/smilemakc/mbflow/internal/application/queue"
	"github.com/smilemakc/mbflow/internal/domain/repository"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/pkg/executor"
	"github.com/smilemakc/mbflow/pkg/models"
)

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	Scheduler *Scheduler
	Instances repository.WorkflowInstanceRepository
	Workflows repository.WorkflowRepository
	Locks     *applock.Service
	Queue     *queue.Store
	Executors executor.Manager
	Logger    *logger.Logger
}

// Adapter (C12) is the stable external API over the durable workflow
// engine: every operation spec.md §4.12 names is a thin method here,
// translating between caller-facing parameters/domain DTOs and the
// Scheduler/repository calls that do the actual work. REST and gRPC
// transports, the schedule tick, and CLI tooling all go through this
// single surface rather than reaching into the Scheduler directly.
type Adapter struct {
	scheduler *Scheduler
	instances repository.WorkflowInstanceRepository
	workflows repository.WorkflowRepository
	locks     *applock.Service
	queue     *queue.Store
	executors executor.Manager
	logger    *logger.Logger
}

// NewAdapter creates an Adapter.
func NewAdapter(cfg AdapterConfig) *Adapter {
	return &Adapter{
		scheduler: cfg.Scheduler,
		instances: cfg.Instances,
		workflows: cfg.Workflows,
		locks:     cfg.Locks,
		queue:     cfg.Queue,
		executors: cfg.Executors,
		logger:    cfg.Logger,
	}
}

// StartWorkflow starts a new instance of definitionID/version.
func (a *Adapter) StartWorkflow(ctx context.Context, definitionID uuid.UUID, version int, input map[string]interface{}) (*models.WorkflowInstance, error) {
	wi, err := a.scheduler.StartWorkflow(ctx, definitionID, version, input)
	if err != nil {
		return nil, err
	}
	return WorkflowInstanceModelToDomain(wi), nil
}

// StartWorkflowByName resolves name to its currently active version and
// starts an instance of it.
func (a *Adapter) StartWorkflowByName(ctx context.Context, name string, input map[string]interface{}) (*models.WorkflowInstance, error) {
	def, err := a.workflows.FindActiveByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("adapter.StartWorkflowByName: %w", err)
	}
	return a.StartWorkflow(ctx, def.ID, def.Version, input)
}

// ResumeWorkflow transitions a paused/interrupted instance back to running.
func (a *Adapter) ResumeWorkflow(ctx context.Context, id uuid.UUID) error {
	return a.scheduler.ResumeWorkflow(ctx, id)
}

// StopWorkflow cancels a running instance with the given reason.
func (a *Adapter) StopWorkflow(ctx context.Context, id uuid.UUID, reason string) error {
	return a.scheduler.StopWorkflow(ctx, id, reason)
}

// CancelWorkflow cancels a running instance with the given reason.
func (a *Adapter) CancelWorkflow(ctx context.Context, id uuid.UUID, reason string) error {
	return a.scheduler.CancelWorkflow(ctx, id, reason)
}

// GetWorkflowStatus returns an instance with its node instances.
func (a *Adapter) GetWorkflowStatus(ctx context.Context, id uuid.UUID) (*models.WorkflowInstance, []*models.NodeInstance, error) {
	wi, err := a.scheduler.GetWorkflowStatus(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	nodes := make([]*models.NodeInstance, 0, len(wi.Nodes))
	for _, n := range wi.Nodes {
		nodes = append(nodes, NodeInstanceModelToDomain(n))
	}
	return WorkflowInstanceModelToDomain(wi), nodes, nil
}

// InstanceFilters narrows GetWorkflowInstances by definition/status/age —
// the adapter-facing mirror of repository.InstanceFilters.
type InstanceFilters struct {
	DefinitionID *uuid.UUID
	Status       *string
	Since        *time.Time
}

// Page bounds a GetWorkflowInstances query.
type Page struct {
	Limit  int
	Offset int
}

// GetWorkflowInstancesResult is the paginated result of GetWorkflowInstances.
type GetWorkflowInstancesResult struct {
	Instances []*models.WorkflowInstance
	Total     int
}

// GetWorkflowInstances lists instances matching filters, paginated.
func (a *Adapter) GetWorkflowInstances(ctx context.Context, filters InstanceFilters, page Page) (*GetWorkflowInstancesResult, error) {
	if page.Limit <= 0 {
		page.Limit = 50
	}
	repoFilters := repository.InstanceFilters{DefinitionID: filters.DefinitionID, Status: filters.Status, Since: filters.Since}
	rows, err := a.instances.FindAllWithFilters(ctx, repoFilters, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("adapter.GetWorkflowInstances: %w", err)
	}
	total, err := a.instances.CountWithFilters(ctx, repoFilters)
	if err != nil {
		return nil, fmt.Errorf("adapter.GetWorkflowInstances: %w", err)
	}
	out := make([]*models.WorkflowInstance, len(rows))
	for i, r := range rows {
		out[i] = WorkflowInstanceModelToDomain(r)
	}
	return &GetWorkflowInstancesResult{Instances: out, Total: total}, nil
}

// WorkflowStats summarizes instance outcomes for getWorkflowStats.
type WorkflowStats struct {
	Total    int
	ByStatus map[string]int
	AvgMs    float64
}

// GetWorkflowStats aggregates counts/durations, optionally scoped to one
// definition and/or a time range's start.
func (a *Adapter) GetWorkflowStats(ctx context.Context, definitionID *uuid.UUID, since *time.Time) (*WorkflowStats, error) {
	stats, err := a.instances.Stats(ctx, repository.InstanceFilters{DefinitionID: definitionID, Since: since})
	if err != nil {
		return nil, fmt.Errorf("adapter.GetWorkflowStats: %w", err)
	}
	return &WorkflowStats{Total: stats.Total, ByStatus: stats.ByStatus, AvgMs: stats.AvgMs}, nil
}

// GetInterruptedWorkflows returns instances left running when their
// scheduler lock lapsed — candidates for BatchResumeWorkflows.
func (a *Adapter) GetInterruptedWorkflows(ctx context.Context) ([]*models.WorkflowInstance, error) {
	rows, err := a.instances.FindInterrupted(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("adapter.GetInterruptedWorkflows: %w", err)
	}
	out := make([]*models.WorkflowInstance, len(rows))
	for i, r := range rows {
		out[i] = WorkflowInstanceModelToDomain(r)
	}
	return out, nil
}

// BatchResumeWorkflowsResult reports per-instance outcomes of a batch resume.
type BatchResumeWorkflowsResult struct {
	Resumed int
	Failed  map[uuid.UUID]error
}

// BatchResumeWorkflows resumes every id independently, collecting failures
// rather than aborting the whole batch on the first error.
func (a *Adapter) BatchResumeWorkflows(ctx context.Context, ids []uuid.UUID) *BatchResumeWorkflowsResult {
	result := &BatchResumeWorkflowsResult{Failed: make(map[uuid.UUID]error)}
	for _, id := range ids {
		if err := a.scheduler.ResumeWorkflow(ctx, id); err != nil {
			result.Failed[id] = err
			continue
		}
		result.Resumed++
	}
	return result
}

// CleanupExpiredInstances deletes terminal instances completed before
// cutoff and reports how many were removed.
func (a *Adapter) CleanupExpiredInstances(ctx context.Context, before time.Time) (int64, error) {
	n, err := a.instances.DeleteCompletedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("adapter.CleanupExpiredInstances: %w", err)
	}
	return n, nil
}

// RetryFailedJob resurrects a queue job left in status=failed, clearing its
// error fields and resetting it to waiting so the next worker poll picks
// it up as if freshly submitted. Returns false if id is not currently
// failed (already retried, archived, or never failed).
func (a *Adapter) RetryFailedJob(ctx context.Context, id string) (bool, error) {
	ok, err := a.queue.RetryFailedJob(ctx, id)
	if err != nil {
		return false, fmt.Errorf("adapter.RetryFailedJob: %w", err)
	}
	return ok, nil
}

// GetJobOutcome reports whether queue job id has settled (succeeded,
// permanently failed, or still in flight) — the read-side counterpart of
// RetryFailedJob, useful for inspecting a job without waiting on it.
func (a *Adapter) GetJobOutcome(ctx context.Context, id string) (*models.JobOutcome, error) {
	outcome, err := a.queue.Outcome(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("adapter.GetJobOutcome: %w", err)
	}
	return outcome, nil
}

// HealthCheckResult summarizes the engine's supporting subsystems.
type HealthCheckResult struct {
	Healthy        bool
	LockStats      *models.LockStatistics
	ExecutorFaults map[string]error
	QueueReachable bool
	Errors         []string
}

// HealthCheck probes the lock store (reachability + stats), every
// registered executor that implements executor.HealthChecker, and the
// queue store (via its lock-reclaim sweep, a real write that doubles as a
// liveness probe). It never returns an error itself — failures are
// reported in the result so a caller can decide severity.
func (a *Adapter) HealthCheck(ctx context.Context) *HealthCheckResult {
	result := &HealthCheckResult{Healthy: true}

	if a.locks != nil {
		stats, err := a.locks.Statistics(ctx)
		if err != nil {
			result.Healthy = false
			result.Errors = append(result.Errors, fmt.Sprintf("lock store: %v", err))
		} else {
			result.LockStats = stats
		}
	}

	if a.queue != nil {
		if _, err := a.queue.ReclaimExpiredLocks(ctx); err != nil {
			result.Healthy = false
			result.Errors = append(result.Errors, fmt.Sprintf("queue store: %v", err))
		} else {
			result.QueueReachable = true
		}
	}

	if checker, ok := a.executors.(interface {
		HealthCheck(ctx context.Context) map[string]error
	}); ok {
		faults := checker.HealthCheck(ctx)
		if len(faults) > 0 {
			result.Healthy = false
			result.ExecutorFaults = faults
		}
	}

	return result
}
