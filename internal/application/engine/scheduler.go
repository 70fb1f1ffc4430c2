package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/mbflow/internal/domain/repository"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	storagemodels "github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/smilemakc/mbflow/pkg/models"
)

// ErrInstanceLockHeld is returned by Tick when another worker currently
// owns the instance's scheduler lock — not a failure, just "try later".
var ErrInstanceLockHeld = errors.New("workflow instance lock held by another worker")

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// WorkerID identifies this process as a lock owner.
	WorkerID string
	// LockTTL bounds how long a Tick may hold the instance lock before a
	// crash makes it reclaimable by FindInterrupted.
	LockTTL time.Duration
}

// Scheduler (C8) advances durable workflow instances: per tick it acquires
// the instance's lock, walks the definition graph finding nodes whose
// predecessors have all completed, delegates each to the
// NodeExecutionService, and re-reads node state to decide whether the
// instance as a whole has finished. Unlike DAGExecutor (which runs a whole
// workflow to completion in one in-memory call), the Scheduler makes
// progress one durable step at a time so a crash mid-run loses at most the
// in-flight node.
type Scheduler struct {
	instances   repository.WorkflowInstanceRepository
	workflows   repository.WorkflowRepository
	nodeService *NodeExecutionService
	cfg         SchedulerConfig
	logger      *logger.Logger
	execLog     repository.ExecutionLogRepository
}

// SchedulerOption configures optional Scheduler dependencies.
type SchedulerOption func(*Scheduler)

// WithSchedulerExecutionLog attaches the durable per-instance execution log
// (C10): instance-level lifecycle transitions are persisted there.
func WithSchedulerExecutionLog(execLog repository.ExecutionLogRepository) SchedulerOption {
	return func(s *Scheduler) { s.execLog = execLog }
}

// NewScheduler creates a Scheduler.
func NewScheduler(instances repository.WorkflowInstanceRepository, workflows repository.WorkflowRepository, nodeService *NodeExecutionService, cfg SchedulerConfig, log *logger.Logger, opts ...SchedulerOption) *Scheduler {
	if cfg.WorkerID == "" {
		cfg.WorkerID = fmt.Sprintf("scheduler-%s", uuid.New().String()[:8])
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	s := &Scheduler{instances: instances, workflows: workflows, nodeService: nodeService, cfg: cfg, logger: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// logInstanceEvent records an instance-level execution log entry. Best
// effort: a write failure is reported to the process logger but never
// fails the caller.
func (s *Scheduler) logInstanceEvent(ctx context.Context, instanceID uuid.UUID, level, message string, fields map[string]interface{}) {
	if s.execLog == nil {
		return
	}
	entry := &storagemodels.ExecutionLogModel{
		WorkflowInstanceID: instanceID,
		Level:              level,
		Message:            message,
		Fields:             storagemodels.JSONBMap(fields),
	}
	if err := s.execLog.Create(ctx, entry); err != nil {
		s.logger.Warn("execution log write failed", "instance_id", instanceID, "error", err)
	}
}

// StartWorkflow creates a new instance for definitionID/version and runs
// the first tick immediately.
func (s *Scheduler) StartWorkflow(ctx context.Context, definitionID uuid.UUID, version int, input map[string]interface{}) (*storagemodels.WorkflowInstanceModel, error) {
	wi := &storagemodels.WorkflowInstanceModel{
		DefinitionID: definitionID,
		Version:      version,
		Status:       "pending",
		Input:        storagemodels.JSONBMap(input),
	}
	if err := s.instances.Create(ctx, wi); err != nil {
		return nil, &models.StorageError{Op: "scheduler.StartWorkflow", Err: err}
	}
	s.logInstanceEvent(ctx, wi.ID, "info", "workflow instance created", map[string]interface{}{"definition_id": definitionID, "version": version})
	if err := s.Tick(ctx, wi.ID); err != nil && !errors.Is(err, ErrInstanceLockHeld) {
		return nil, err
	}
	return s.instances.FindByID(ctx, wi.ID)
}

// ResumeWorkflow transitions a paused/interrupted instance back to running
// and runs a tick.
func (s *Scheduler) ResumeWorkflow(ctx context.Context, id uuid.UUID) error {
	inst, err := s.instances.FindByID(ctx, id)
	if err != nil {
		return &models.StorageError{Op: "scheduler.ResumeWorkflow", Err: err}
	}
	if !models.CanTransition(models.WorkflowInstanceStatus(inst.Status), models.WorkflowInstanceStatusRunning) {
		return fmt.Errorf("workflow instance %s cannot resume from status %s", id, inst.Status)
	}
	inst.Status = "running"
	if err := s.instances.UpdateStatus(ctx, inst); err != nil {
		return &models.StorageError{Op: "scheduler.ResumeWorkflow", Err: err}
	}
	if err := s.Tick(ctx, id); err != nil && !errors.Is(err, ErrInstanceLockHeld) {
		return err
	}
	return nil
}

// StopWorkflow and CancelWorkflow both land on the terminal "cancelled"
// status — the instance status machine has no separate "stopped" state, so
// the two differ only in the reason text a caller supplies.
func (s *Scheduler) StopWorkflow(ctx context.Context, id uuid.UUID, reason string) error {
	return s.transitionTerminal(ctx, id, reason)
}

func (s *Scheduler) CancelWorkflow(ctx context.Context, id uuid.UUID, reason string) error {
	return s.transitionTerminal(ctx, id, reason)
}

func (s *Scheduler) transitionTerminal(ctx context.Context, id uuid.UUID, reason string) error {
	inst, err := s.instances.FindByID(ctx, id)
	if err != nil {
		return &models.StorageError{Op: "scheduler.transitionTerminal", Err: err}
	}
	if !models.CanTransition(models.WorkflowInstanceStatus(inst.Status), models.WorkflowInstanceStatusCancelled) {
		return nil // already terminal: idempotent no-op per spec.md invariant
	}
	inst.MarkCancelled()
	inst.ErrorMessage = reason
	s.logInstanceEvent(ctx, inst.ID, "warn", "workflow instance cancelled", map[string]interface{}{"reason": reason})
	return s.instances.UpdateStatus(ctx, inst)
}

// GetWorkflowStatus returns the instance plus its node instances.
func (s *Scheduler) GetWorkflowStatus(ctx context.Context, id uuid.UUID) (*storagemodels.WorkflowInstanceModel, error) {
	return s.instances.FindByIDWithNodes(ctx, id)
}

// ReconcileInterrupted scans for running instances whose scheduler lock has
// lapsed — the owning worker presumably crashed — and re-adopts each with
// a fresh Tick. Because AcquireSchedulerLock only succeeds once the prior
// lock has expired, this is safe to call from multiple processes: only one
// will actually win each instance.
func (s *Scheduler) ReconcileInterrupted(ctx context.Context) (int, error) {
	instances, err := s.instances.FindInterrupted(ctx, time.Now())
	if err != nil {
		return 0, &models.StorageError{Op: "scheduler.ReconcileInterrupted", Err: err}
	}
	reconciled := 0
	for _, inst := range instances {
		if err := s.Tick(ctx, inst.ID); err != nil {
			if errors.Is(err, ErrInstanceLockHeld) {
				continue
			}
			s.logger.Warn("reconcile tick failed", "instance_id", inst.ID, "error", err)
			continue
		}
		reconciled++
	}
	return reconciled, nil
}

// Tick implements the per-instance control loop from spec.md §4.8: acquire
// the instance lock, advance ready nodes in a batch, re-check terminal
// status, and either loop (more progress to make) or release the lock.
func (s *Scheduler) Tick(ctx context.Context, id uuid.UUID) error {
	ok, err := s.instances.AcquireSchedulerLock(ctx, id, s.cfg.WorkerID, time.Now().Add(s.cfg.LockTTL))
	if err != nil {
		return &models.StorageError{Op: "scheduler.AcquireSchedulerLock", Err: err}
	}
	if !ok {
		return ErrInstanceLockHeld
	}
	defer func() {
		if err := s.instances.ReleaseSchedulerLock(ctx, id, s.cfg.WorkerID); err != nil {
			s.logger.Warn("release scheduler lock failed", "instance_id", id, "error", err)
		}
	}()

	for {
		progressed, done, err := s.advanceOnce(ctx, id)
		if err != nil {
			return err
		}
		if done || !progressed {
			return nil
		}
	}
}

// advanceOnce loads current state, advances every node whose predecessors
// have all completed, and re-derives the instance's overall status from
// the resulting node states. It returns whether any node's status changed
// (more ticks may still be useful) and whether the instance reached a
// terminal state.
func (s *Scheduler) advanceOnce(ctx context.Context, id uuid.UUID) (progressed bool, done bool, err error) {
	inst, err := s.instances.FindByIDWithNodes(ctx, id)
	if err != nil {
		return false, false, &models.StorageError{Op: "scheduler.advanceOnce", Err: err}
	}
	if models.WorkflowInstanceStatus(inst.Status).IsTerminal() {
		return false, true, nil
	}
	if inst.Status == "pending" {
		inst.MarkStarted()
		if err := s.instances.UpdateStatus(ctx, inst); err != nil {
			return false, false, &models.StorageError{Op: "scheduler.advanceOnce", Err: err}
		}
	}

	def, err := s.workflows.FindByIDWithRelations(ctx, inst.DefinitionID)
	if err != nil {
		return false, false, &models.StorageError{Op: "scheduler.advanceOnce", Err: err}
	}
	graph := WorkflowModelToDomain(def)
	if graph == nil || len(graph.Nodes) == 0 {
		return false, false, fmt.Errorf("workflow definition %s has no nodes", inst.DefinitionID)
	}

	topLevel := make(map[string]*storagemodels.NodeInstanceModel, len(inst.Nodes))
	for _, n := range inst.Nodes {
		if n.IsTopLevel() {
			topLevel[n.NodeID] = n
		}
	}

	indegree, incoming := buildIncoming(graph)

	for _, node := range graph.Nodes {
		ni, exists := topLevel[node.ID]
		if exists && isTerminal(ni.Status) {
			continue
		}
		if !exists && indegree[node.ID] > 0 && !allParentsComplete(incoming[node.ID], topLevel) {
			continue
		}

		var inputData map[string]interface{}
		if !exists {
			inputData = mergeAncestorOutputs(incoming[node.ID], topLevel)
		}

		before := ""
		if exists {
			before = ni.Status
		}
		updated, aerr := s.nodeService.Advance(ctx, inst.ID, node, ni, inputData)
		if aerr != nil {
			return progressed, false, aerr
		}
		topLevel[node.ID] = updated
		if updated.Status != before {
			progressed = true
		}
	}

	allTerminal := true
	anyFailed := false
	failMsg := ""
	for _, node := range graph.Nodes {
		ni, ok := topLevel[node.ID]
		if !ok || !isTerminal(ni.Status) {
			allTerminal = false
			continue
		}
		if ni.Status == "failed" {
			anyFailed = true
			failMsg = ni.ErrorMessage
		}
	}

	if anyFailed {
		inst.MarkFailed(failMsg)
		s.logInstanceEvent(ctx, inst.ID, "error", "workflow instance failed", map[string]interface{}{"error": failMsg})
		return progressed, true, s.instances.UpdateStatus(ctx, inst)
	}
	if allTerminal {
		inst.MarkCompleted()
		s.logInstanceEvent(ctx, inst.ID, "info", "workflow instance completed", nil)
		return progressed, true, s.instances.UpdateStatus(ctx, inst)
	}
	return progressed, false, nil
}

// buildIncoming computes in-degree and predecessor lists over a graph's
// unconditional edges. Condition-bearing edges remain the flat
// DAGExecutor's territory (see helpers.go/shouldExecuteNode); this first
// pass of the durable, resumable scheduler covers straight-line and
// composite-node routing only.
func buildIncoming(graph *models.Workflow) (map[string]int, map[string][]string) {
	indegree := make(map[string]int, len(graph.Nodes))
	incoming := make(map[string][]string, len(graph.Nodes))
	for _, n := range graph.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range graph.Edges {
		if e.Condition != "" {
			continue
		}
		indegree[e.To]++
		incoming[e.To] = append(incoming[e.To], e.From)
	}
	return indegree, incoming
}

func allParentsComplete(parents []string, topLevel map[string]*storagemodels.NodeInstanceModel) bool {
	for _, p := range parents {
		ni, ok := topLevel[p]
		if !ok || ni.Status != "completed" {
			return false
		}
	}
	return true
}

// mergeAncestorOutputs mirrors NodeExecutor.PrepareNodeContext: a single
// parent's output is passed through directly, multiple parents' outputs
// are namespaced by parent node ID.
func mergeAncestorOutputs(parents []string, topLevel map[string]*storagemodels.NodeInstanceModel) map[string]interface{} {
	if len(parents) == 0 {
		return map[string]interface{}{}
	}
	if len(parents) == 1 {
		if ni, ok := topLevel[parents[0]]; ok {
			return map[string]interface{}(ni.OutputData)
		}
		return map[string]interface{}{}
	}
	merged := make(map[string]interface{}, len(parents))
	for _, p := range parents {
		if ni, ok := topLevel[p]; ok {
			merged[p] = map[string]interface{}(ni.OutputData)
		}
	}
	return merged
}
