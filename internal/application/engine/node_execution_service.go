package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/mbflow/internal/application/queue"
	"github.com/smilemakc/mbflow/internal/domain/repository"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	storagemodels "github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/smilemakc/mbflow/pkg/executor"
	"github.com/smilemakc/mbflow/pkg/models"
)

// nodeJobLease bounds how long a simple-node dispatch attempt may hold its
// claimed QueueJob before another caller (or recovery sweep) could reclaim
// it. Since runSimple both claims and settles the job within the same
// call, this is a safety margin, not a real contention window.
const nodeJobLease = 5 * time.Minute

// specKey is the InputData key a fanned-out sub-node stores its NodeSpec
// under, since sub-nodes (created by parallel/loop) have no corresponding
// entry in the WorkflowDefinition graph to look the spec up from.
const specKey = "__spec"

// NodeExecutionService (C9) drives one NodeInstance's state machine forward:
// pending -> running -> completed|failed|cancelled|skipped, with failed
// looping back to pending while retries remain. It dispatches "simple"
// nodes directly against the executor registry (the synchronous
// counterpart of NodeExecutor.Execute/PrepareNodeContext above, generalized
// from an in-memory ExecutionState to persisted NodeInstance rows so a
// crash mid-call leaves a resumable trail instead of losing the step), and
// fans parallel/loop nodes out into child NodeInstance rows that it then
// drives the same way, recursively.
type NodeExecutionService struct {
	repo      repository.WorkflowInstanceRepository
	executors executor.Manager
	logger    *logger.Logger
	execLog   repository.ExecutionLogRepository
	queue     *queue.Store
}

// NodeExecutionServiceOption configures optional NodeExecutionService
// dependencies that most callers (and every existing test) don't need to
// supply.
type NodeExecutionServiceOption func(*NodeExecutionService)

// WithExecutionLog attaches the durable per-instance execution log (C10):
// node start/completion/failure events are persisted there in addition to
// the process-wide slog stream.
func WithExecutionLog(execLog repository.ExecutionLogRepository) NodeExecutionServiceOption {
	return func(s *NodeExecutionService) { s.execLog = execLog }
}

// WithQueue attaches the durable task queue (C2) so every simple-node
// dispatch leaves a real row in queue_jobs/queue_successes instead of
// just the node_instances trail — the same Enqueue/LockNext/Complete/
// MarkAsFailed path a distributed worker pool uses, scoped to a
// per-node-instance queue name so a single inline claim can't steal work
// belonging to another node. Tests that only exercise node-instance state
// transitions against a fake repo can omit this option entirely.
func WithQueue(store *queue.Store) NodeExecutionServiceOption {
	return func(s *NodeExecutionService) { s.queue = store }
}

// NewNodeExecutionService creates a NodeExecutionService.
func NewNodeExecutionService(repo repository.WorkflowInstanceRepository, executors executor.Manager, log *logger.Logger, opts ...NodeExecutionServiceOption) *NodeExecutionService {
	s := &NodeExecutionService{repo: repo, executors: executors, logger: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// logEvent records a node-level execution log entry. It is a best-effort
// side channel: a logging failure is reported to the process logger but
// never aborts node execution.
func (s *NodeExecutionService) logEvent(ctx context.Context, ni *storagemodels.NodeInstanceModel, level, message string, fields map[string]interface{}) {
	if s.execLog == nil {
		return
	}
	nodeInstanceID := ni.ID
	entry := &storagemodels.ExecutionLogModel{
		WorkflowInstanceID: ni.WorkflowInstanceID,
		NodeInstanceID:     &nodeInstanceID,
		Level:              level,
		Message:            message,
		Fields:             storagemodels.JSONBMap(fields),
	}
	if err := s.execLog.Create(ctx, entry); err != nil {
		s.logger.Warn("execution log write failed", "node_instance_id", ni.ID, "error", err)
	}
}

// Advance drives the top-level node instance for a definition node one step
// forward, creating the instance row on first visit. inputData is only
// used on creation (the merged ancestor output); on later visits the
// persisted InputData governs.
func (s *NodeExecutionService) Advance(ctx context.Context, workflowInstanceID uuid.UUID, node *models.Node, existing *storagemodels.NodeInstanceModel, inputData map[string]interface{}) (*storagemodels.NodeInstanceModel, error) {
	spec, err := models.NodeSpecFromNode(node)
	if err != nil {
		return nil, fmt.Errorf("decode node spec for %s: %w", node.ID, err)
	}

	if existing == nil {
		if inputData == nil {
			inputData = map[string]interface{}{}
		}
		existing = &storagemodels.NodeInstanceModel{
			WorkflowInstanceID: workflowInstanceID,
			NodeID:             node.ID,
			NodeName:           node.Name,
			NodeType:           node.Type,
			Status:             "pending",
			InputData:          storagemodels.JSONBMap(inputData),
		}
		if err := s.repo.CreateNodeInstance(ctx, existing); err != nil {
			return nil, &models.StorageError{Op: "engine.CreateNodeInstance", Err: err}
		}
	}

	if err := s.advanceNodeInstance(ctx, existing, spec); err != nil {
		return existing, err
	}
	return existing, nil
}

// advanceNodeInstance is the node-kind dispatch shared by top-level nodes
// and by parallel/loop sub-nodes (whose spec comes from their own InputData
// rather than a graph lookup).
func (s *NodeExecutionService) advanceNodeInstance(ctx context.Context, ni *storagemodels.NodeInstanceModel, spec *models.NodeSpec) error {
	switch ni.Status {
	case "pending":
		ni.MarkStarted()
		if spec.Kind == "loop" && ni.LoopStatus == "" {
			ni.LoopStatus = "creating"
		}
		if err := s.repo.UpdateNodeInstance(ctx, ni); err != nil {
			return &models.StorageError{Op: "engine.UpdateNodeInstance", Err: err}
		}
		return s.dispatch(ctx, ni, spec)
	case "running":
		return s.dispatch(ctx, ni, spec)
	default:
		return nil
	}
}

func (s *NodeExecutionService) dispatch(ctx context.Context, ni *storagemodels.NodeInstanceModel, spec *models.NodeSpec) error {
	switch spec.Kind {
	case "parallel":
		if ni.LoopTotal == 0 && ni.LoopStatus == "" {
			return s.startParallel(ctx, ni, spec)
		}
		return s.advanceParallel(ctx, ni, spec)
	case "loop":
		return s.driveLoop(ctx, ni, spec)
	default:
		return s.runSimple(ctx, ni, spec)
	}
}

// runSimple dispatches a leaf node to its executor synchronously and
// records the outcome immediately — simple nodes never sit in "running"
// across a tick boundary. When a queue store is configured, the dispatch
// is also claimed and settled as a real QueueJob (see claimNodeJob),
// giving every execution an entry in queue_jobs/queue_successes rather
// than leaving it a node_instances-only event.
func (s *NodeExecutionService) runSimple(ctx context.Context, ni *storagemodels.NodeInstanceModel, spec *models.NodeSpec) error {
	ex, err := s.executors.Get(spec.Executor)
	if err != nil {
		ni.MarkFailed(err.Error())
		s.logEvent(ctx, ni, "error", "unknown executor", map[string]interface{}{"executor": spec.Executor, "error": err.Error()})
		return s.repo.UpdateNodeInstance(ctx, ni)
	}

	config := map[string]interface{}{}
	for k, v := range spec.InputData {
		config[k] = v
	}

	jobID := s.claimNodeJob(ctx, ni, spec)
	start := time.Now()
	out, runErr := ex.Execute(ctx, config, map[string]interface{}(ni.InputData))
	elapsed := time.Since(start)

	if runErr != nil {
		s.settleNodeJob(ctx, jobID, nil, runErr, elapsed)
		return s.handleNodeFailure(ctx, ni, runErr)
	}

	s.settleNodeJob(ctx, jobID, out, nil, elapsed)
	ni.OutputData = toJSONBMap(out)
	ni.MarkCompleted()
	s.logEvent(ctx, ni, "info", "node completed", map[string]interface{}{"executor": spec.Executor})
	return s.repo.UpdateNodeInstance(ctx, ni)
}

// claimNodeJob enqueues then immediately claims a QueueJob for this
// dispatch attempt, mirroring the worker-pool contract (§4.3: enqueue,
// lockJobForProcessing, dispatch) inline instead of across a poll
// boundary. The queue name is scoped to this node instance
// ("node:<id>") so LockNext — which claims the highest-priority row
// across the whole named queue — can only ever see this node's own
// work: a prior attempt's row, if any, is left in status=failed (via
// MarkAsFailed) and is excluded by LockNext's waiting/delayed filter, so
// a retry's fresh Enqueue is always the sole eligible row. Returns ""
// if no queue is configured, or if the enqueue/claim failed — queue
// bookkeeping is a side channel here, not the node's execution path, so
// a failure here never blocks dispatch.
func (s *NodeExecutionService) claimNodeJob(ctx context.Context, ni *storagemodels.NodeInstanceModel, spec *models.NodeSpec) string {
	if s.queue == nil {
		return ""
	}
	queueName := "node:" + ni.ID.String()
	if _, err := s.queue.Enqueue(ctx, &models.QueueJob{
		QueueName:    queueName,
		GroupID:      ni.WorkflowInstanceID.String(),
		JobName:      ni.NodeID,
		ExecutorName: spec.Executor,
		Payload:      map[string]interface{}(ni.InputData),
		MaxAttempts:  1,
	}); err != nil {
		s.logger.Warn("node job enqueue failed", "node_instance_id", ni.ID, "error", err)
		return ""
	}
	job, err := s.queue.LockNext(ctx, queueName, "inline:"+ni.ID.String(), nodeJobLease)
	if err != nil {
		s.logger.Warn("node job claim failed", "node_instance_id", ni.ID, "error", err)
		return ""
	}
	if job == nil {
		return ""
	}
	if id, perr := uuid.Parse(job.ID); perr == nil {
		ni.QueueJobID = &id
	}
	return job.ID
}

// settleNodeJob records the executor's outcome against the job claimed by
// claimNodeJob: moveToSuccess on success, markAsFailed (in place, so a
// later retryFailedJob could resurrect it) on failure. A no-op if jobID
// is empty — no queue configured, or the claim itself failed.
func (s *NodeExecutionService) settleNodeJob(ctx context.Context, jobID string, out interface{}, runErr error, elapsed time.Duration) {
	if jobID == "" {
		return
	}
	if runErr != nil {
		if err := s.queue.MarkAsFailed(ctx, jobID, runErr.Error(), "", ""); err != nil {
			s.logger.Warn("node job mark-failed write failed", "job_id", jobID, "error", err)
		}
		return
	}
	resultMap, _ := out.(map[string]interface{})
	if err := s.queue.Complete(ctx, jobID, resultMap, elapsed); err != nil {
		s.logger.Warn("node job complete write failed", "job_id", jobID, "error", err)
	}
}

// handleNodeFailure implements failed -> (retry?) -> pending: a retriable
// failure is recorded as failed_retry then immediately reset to pending so
// the next tick re-dispatches it; an exhausted node settles as failed.
func (s *NodeExecutionService) handleNodeFailure(ctx context.Context, ni *storagemodels.NodeInstanceModel, err error) error {
	if ni.RetryCount < ni.MaxRetries {
		ni.MarkFailedRetry(err.Error())
		s.logEvent(ctx, ni, "warn", "node failed, retrying", map[string]interface{}{"retry_count": ni.RetryCount, "error": err.Error()})
		if uerr := s.repo.UpdateNodeInstance(ctx, ni); uerr != nil {
			return uerr
		}
		ni.Status = "pending"
		ni.StartedAt = nil
		return s.repo.UpdateNodeInstance(ctx, ni)
	}
	ni.MarkFailed(err.Error())
	s.logEvent(ctx, ni, "error", "node failed, retries exhausted", map[string]interface{}{"error": err.Error()})
	return s.repo.UpdateNodeInstance(ctx, ni)
}

// startParallel fans a parallel node's branches out into N child rows in
// one transaction, alongside the progress bookkeeping flip to "executing"
// — spec.md §4.9 reuses the loop node's loopProgress columns for parallel
// too, so both kinds share LoopStatus/LoopTotal/LoopCompleted/LoopFailed.
func (s *NodeExecutionService) startParallel(ctx context.Context, parent *storagemodels.NodeInstanceModel, spec *models.NodeSpec) error {
	n := len(spec.Branches)
	children := make([]*storagemodels.NodeInstanceModel, n)
	for i, branch := range spec.Branches {
		specData, err := structToMap(branch)
		if err != nil {
			return fmt.Errorf("encode branch %d spec: %w", i, err)
		}
		idx := i
		children[i] = &storagemodels.NodeInstanceModel{
			WorkflowInstanceID: parent.WorkflowInstanceID,
			ParentNodeID:       &parent.ID,
			NodeID:             fmt.Sprintf("%s/%d", parent.NodeID, idx),
			NodeName:           fmt.Sprintf("%s[%d]", parent.NodeName, idx),
			NodeType:           branch.Kind,
			Status:             "pending",
			ChildIndex:         &idx,
			InputData:          storagemodels.JSONBMap{specKey: specData},
		}
	}

	parent.LoopStatus = "executing"
	parent.LoopTotal = n
	parent.LoopCompleted = 0
	parent.LoopFailed = 0

	return s.repo.RunInTx(ctx, func(ctx context.Context) error {
		if n > 0 {
			if err := s.repo.CreateNodeInstances(ctx, children); err != nil {
				return err
			}
		}
		return s.repo.UpdateNodeInstance(ctx, parent)
	})
}

// advanceParallel drives every non-terminal branch forward one step and
// promotes the parent once all branches have settled.
func (s *NodeExecutionService) advanceParallel(ctx context.Context, parent *storagemodels.NodeInstanceModel, spec *models.NodeSpec) error {
	children, err := s.repo.FindChildNodeInstances(ctx, parent.ID)
	if err != nil {
		return &models.StorageError{Op: "engine.FindChildNodeInstances", Err: err}
	}

	for _, child := range children {
		if isTerminal(child.Status) {
			continue
		}
		childSpec, err := specFromInstance(child)
		if err != nil {
			child.MarkFailed(err.Error())
			_ = s.repo.UpdateNodeInstance(ctx, child)
			continue
		}
		if err := s.advanceNodeInstance(ctx, child, childSpec); err != nil {
			s.logger.Warn("parallel branch advance failed", "node_id", child.NodeID, "error", err)
		}
	}

	return s.settleFanOut(ctx, parent, children, spec.JoinPolicy)
}

// driveLoop resumes a loop node at whichever phase it last reached.
func (s *NodeExecutionService) driveLoop(ctx context.Context, parent *storagemodels.NodeInstanceModel, spec *models.NodeSpec) error {
	switch parent.LoopStatus {
	case "", "creating":
		return s.createLoopChildren(ctx, parent, spec)
	case "executing":
		return s.advanceLoop(ctx, parent, spec)
	default:
		return nil
	}
}

// createLoopChildren is the loop node's "creating" phase: run the
// data-source executor, then in ONE transaction create every child row and
// flip loopProgress to "executing". If the process crashes before the
// transaction commits, LoopStatus is still "creating" (or empty) on
// restart and this phase simply reruns from scratch — safe because nothing
// was persisted from the aborted attempt.
func (s *NodeExecutionService) createLoopChildren(ctx context.Context, parent *storagemodels.NodeInstanceModel, spec *models.NodeSpec) error {
	if spec.Source == nil {
		parent.MarkFailed("loop node has no data source")
		return s.repo.UpdateNodeInstance(ctx, parent)
	}

	ex, err := s.executors.Get(spec.Source.Executor)
	if err != nil {
		parent.MarkFailed(err.Error())
		return s.repo.UpdateNodeInstance(ctx, parent)
	}

	out, err := ex.Execute(ctx, spec.Source.Config, map[string]interface{}(parent.InputData))
	if err != nil {
		return s.handleNodeFailure(ctx, parent, err)
	}

	items, err := toItemSlice(out)
	if err != nil {
		parent.MarkFailed(err.Error())
		return s.repo.UpdateNodeInstance(ctx, parent)
	}

	if spec.Child == nil {
		parent.MarkFailed("loop node has no child template")
		return s.repo.UpdateNodeInstance(ctx, parent)
	}
	childSpecData, err := structToMap(spec.Child)
	if err != nil {
		return fmt.Errorf("encode loop child spec: %w", err)
	}

	children := make([]*storagemodels.NodeInstanceModel, len(items))
	for i, item := range items {
		idx := i
		inputData := map[string]interface{}{"iterationIndex": idx, specKey: childSpecData}
		if m, ok := item.(map[string]interface{}); ok {
			for k, v := range m {
				inputData[k] = v
			}
		} else {
			inputData["item"] = item
		}
		children[i] = &storagemodels.NodeInstanceModel{
			WorkflowInstanceID: parent.WorkflowInstanceID,
			ParentNodeID:       &parent.ID,
			NodeID:             fmt.Sprintf("%s/%d", parent.NodeID, idx),
			NodeName:           fmt.Sprintf("%s[%d]", parent.NodeName, idx),
			NodeType:           spec.Child.Kind,
			Status:             "pending",
			ChildIndex:         &idx,
			InputData:          storagemodels.JSONBMap(inputData),
		}
	}

	parent.LoopStatus = "executing"
	parent.LoopTotal = len(items)
	parent.LoopCompleted = 0
	parent.LoopFailed = 0

	return s.repo.RunInTx(ctx, func(ctx context.Context) error {
		if len(children) > 0 {
			if err := s.repo.CreateNodeInstances(ctx, children); err != nil {
				return err
			}
		}
		return s.repo.UpdateNodeInstance(ctx, parent)
	})
}

// advanceLoop is the "executing" phase: drive every pending child forward,
// serially or with bounded concurrency per executorConfig.parallel, then
// settle the parent once every child is terminal.
func (s *NodeExecutionService) advanceLoop(ctx context.Context, parent *storagemodels.NodeInstanceModel, spec *models.NodeSpec) error {
	children, err := s.repo.FindChildNodeInstances(ctx, parent.ID)
	if err != nil {
		return &models.StorageError{Op: "engine.FindChildNodeInstances", Err: err}
	}
	sort.Slice(children, func(i, j int) bool {
		return childIndexOf(children[i]) < childIndexOf(children[j])
	})

	onFailure := spec.OnChildFailure
	if onFailure == "" {
		onFailure = models.DefaultChildFailurePolicy()
	}

	pending := make([]*storagemodels.NodeInstanceModel, 0, len(children))
	anyFailed := false
	for _, c := range children {
		if c.Status == "failed" {
			anyFailed = true
		}
		if !isTerminal(c.Status) {
			pending = append(pending, c)
		}
	}
	if onFailure == models.ChildFailureAbort && anyFailed {
		// Stop starting new iterations; already-running ones finish on
		// their own, matching the "in-flight work completes, new work
		// stops" cancellation semantics in spec.md §5.
		pending = nil
	}

	advance := func(child *storagemodels.NodeInstanceModel) {
		childSpec, err := specFromInstance(child)
		if err != nil {
			child.MarkFailed(err.Error())
			_ = s.repo.UpdateNodeInstance(ctx, child)
			return
		}
		if err := s.advanceNodeInstance(ctx, child, childSpec); err != nil {
			s.logger.Warn("loop child advance failed", "node_id", child.NodeID, "error", err)
		}
	}

	if spec.ExecutorConfig != nil && spec.ExecutorConfig.Parallel && len(pending) > 1 {
		concurrency := spec.ExecutorConfig.Concurrency
		if concurrency <= 0 || concurrency > len(pending) {
			concurrency = len(pending)
		}
		sem := make(chan struct{}, concurrency)
		var wg sync.WaitGroup
		for _, child := range pending {
			child := child
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				advance(child)
			}()
		}
		wg.Wait()
	} else {
		for _, child := range pending {
			advance(child)
		}
	}

	return s.settleFanOut(ctx, parent, children, models.JoinPolicyAll)
}

// settleFanOut tallies a fanned-out node's children and, once every one has
// reached a terminal state, promotes the parent to completed or failed per
// joinPolicy and flips LoopStatus to "completed".
func (s *NodeExecutionService) settleFanOut(ctx context.Context, parent *storagemodels.NodeInstanceModel, children []*storagemodels.NodeInstanceModel, joinPolicy models.ParallelJoinPolicy) error {
	completed, failed := 0, 0
	for _, c := range children {
		switch c.Status {
		case "completed":
			completed++
		case "failed", "cancelled":
			failed++
		}
	}
	parent.LoopCompleted = completed
	parent.LoopFailed = failed

	if completed+failed >= parent.LoopTotal {
		parent.LoopStatus = "completed"
		fail := failed > 0
		if joinPolicy == models.JoinPolicyAnySuccess {
			fail = completed == 0 && parent.LoopTotal > 0
		}
		if fail {
			parent.MarkFailed(fmt.Sprintf("%d of %d sub-nodes failed", failed, parent.LoopTotal))
			s.logEvent(ctx, parent, "error", "fan-out node failed", map[string]interface{}{"completed": completed, "failed": failed, "total": parent.LoopTotal})
		} else {
			parent.MarkCompleted()
			s.logEvent(ctx, parent, "info", "fan-out node completed", map[string]interface{}{"completed": completed, "total": parent.LoopTotal})
		}
	}
	return s.repo.UpdateNodeInstance(ctx, parent)
}

func isTerminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled", "skipped":
		return true
	default:
		return false
	}
}

func childIndexOf(n *storagemodels.NodeInstanceModel) int {
	if n.ChildIndex == nil {
		return 0
	}
	return *n.ChildIndex
}

// specFromInstance recovers the NodeSpec a parallel/loop node stashed on a
// sub-node's InputData at fan-out time, since sub-nodes have no entry of
// their own in the WorkflowDefinition graph.
func specFromInstance(ni *storagemodels.NodeInstanceModel) (*models.NodeSpec, error) {
	raw, ok := ni.InputData[specKey]
	if !ok {
		return nil, fmt.Errorf("node instance %s has no stored spec", ni.ID)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	spec := &models.NodeSpec{}
	if err := json.Unmarshal(data, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// structToMap round-trips a NodeSpec through JSON into a plain map, the
// same way Workflow.Clone deep-copies a workflow, so it stores cleanly in
// a JSONBMap column.
func structToMap(spec *models.NodeSpec) (map[string]interface{}, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// toItemSlice normalizes a data-source executor's result into items[].
func toItemSlice(out interface{}) ([]interface{}, error) {
	switch v := out.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return v, nil
	case []map[string]interface{}:
		items := make([]interface{}, len(v))
		for i, m := range v {
			items[i] = m
		}
		return items, nil
	default:
		return nil, fmt.Errorf("loop data source must return items[], got %T", out)
	}
}

func toJSONBMap(out interface{}) storagemodels.JSONBMap {
	switch v := out.(type) {
	case nil:
		return storagemodels.JSONBMap{}
	case map[string]interface{}:
		return storagemodels.JSONBMap(v)
	default:
		return storagemodels.JSONBMap{"result": v}
	}
}
