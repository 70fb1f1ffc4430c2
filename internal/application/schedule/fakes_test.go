package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/mbflow/internal/domain/repository"
	storagemodels "github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	pkgmodels "github.com/smilemakc/mbflow/pkg/models"
)

var (
	_ repository.ScheduleRepository         = (*fakeScheduleRepo)(nil)
	_ repository.LockRepository             = (*fakeLockRepo)(nil)
	_ repository.WorkflowInstanceRepository = (*fakeInstanceRepo)(nil)
	_ repository.WorkflowRepository         = (*fakeWorkflowRepo)(nil)
)

// fakeScheduleRepo is an in-memory stand-in for repository.ScheduleRepository.
// The tick algorithm threads state across several calls (FindDue,
// RecordExecution, AttachWorkflowInstance, AdvanceNextRun, CompleteExecution)
// within a single pass, which an in-memory fake models more directly than a
// call-by-call mock.
type fakeScheduleRepo struct {
	mu         sync.Mutex
	schedules  map[uuid.UUID]*storagemodels.ScheduleModel
	executions map[uuid.UUID]*storagemodels.ScheduleExecutionModel
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{
		schedules:  map[uuid.UUID]*storagemodels.ScheduleModel{},
		executions: map[uuid.UUID]*storagemodels.ScheduleExecutionModel{},
	}
}

func (f *fakeScheduleRepo) Create(ctx context.Context, schedule *storagemodels.ScheduleModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}
	f.schedules[schedule.ID] = schedule
	return nil
}

func (f *fakeScheduleRepo) Update(ctx context.Context, schedule *storagemodels.ScheduleModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[schedule.ID]; !ok {
		return errors.New("schedule not found")
	}
	f.schedules[schedule.ID] = schedule
	return nil
}

func (f *fakeScheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.schedules, id)
	return nil
}

func (f *fakeScheduleRepo) FindByID(ctx context.Context, id uuid.UUID) (*storagemodels.ScheduleModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sch, ok := f.schedules[id]
	if !ok {
		return nil, errors.New("schedule not found")
	}
	return sch, nil
}

func (f *fakeScheduleRepo) FindActive(ctx context.Context) ([]*storagemodels.ScheduleModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storagemodels.ScheduleModel
	for _, sch := range f.schedules {
		if sch.Status != "deleted" {
			out = append(out, sch)
		}
	}
	return out, nil
}

func (f *fakeScheduleRepo) FindDue(ctx context.Context, now time.Time) ([]*storagemodels.ScheduleModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storagemodels.ScheduleModel
	for _, sch := range f.schedules {
		if sch.IsActive() && sch.NextRunAt != nil && !sch.NextRunAt.After(now) {
			out = append(out, sch)
		}
	}
	return out, nil
}

func (f *fakeScheduleRepo) AdvanceNextRun(ctx context.Context, id uuid.UUID, nextRunAt, lastRunAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sch, ok := f.schedules[id]
	if !ok {
		return errors.New("schedule not found")
	}
	sch.NextRunAt = &nextRunAt
	sch.LastRunAt = &lastRunAt
	return nil
}

func (f *fakeScheduleRepo) RecordExecution(ctx context.Context, execution *storagemodels.ScheduleExecutionModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if execution.ID == uuid.Nil {
		execution.ID = uuid.New()
	}
	if execution.TriggeredAt.IsZero() {
		execution.TriggeredAt = time.Now()
	}
	f.executions[execution.ID] = execution
	return nil
}

func (f *fakeScheduleRepo) AttachWorkflowInstance(ctx context.Context, id, workflowInstanceID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	exec, ok := f.executions[id]
	if !ok {
		return errors.New("execution not found")
	}
	exec.WorkflowInstanceID = &workflowInstanceID
	return nil
}

func (f *fakeScheduleRepo) FindRunningExecutions(ctx context.Context) ([]*storagemodels.ScheduleExecutionModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storagemodels.ScheduleExecutionModel
	for _, exec := range f.executions {
		if exec.Status == "running" || exec.Status == "triggered" {
			out = append(out, exec)
		}
	}
	return out, nil
}

func (f *fakeScheduleRepo) CompleteExecution(ctx context.Context, id uuid.UUID, status string, errMsg string, completedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	exec, ok := f.executions[id]
	if !ok {
		return errors.New("execution not found")
	}
	exec.Status = status
	exec.ErrorMessage = errMsg
	exec.CompletedAt = &completedAt
	return nil
}

func (f *fakeScheduleRepo) RunningCount(ctx context.Context, scheduleID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, exec := range f.executions {
		if exec.ScheduleID == scheduleID && exec.Status == "running" {
			count++
		}
	}
	return count, nil
}

func (f *fakeScheduleRepo) FindExecutionsBySchedule(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]*storagemodels.ScheduleExecutionModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storagemodels.ScheduleExecutionModel
	for _, exec := range f.executions {
		if exec.ScheduleID == scheduleID {
			out = append(out, exec)
		}
	}
	return out, nil
}

func (f *fakeScheduleRepo) DeleteExecutionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, exec := range f.executions {
		if exec.TriggeredAt.Before(cutoff) {
			delete(f.executions, id)
			n++
		}
	}
	return n, nil
}

// fakeLockRepo is an in-memory stand-in for repository.LockRepository.
type fakeLockRepo struct {
	mu    sync.Mutex
	locks map[string]*storagemodels.LockModel
}

func newFakeLockRepo() *fakeLockRepo {
	return &fakeLockRepo{locks: map[string]*storagemodels.LockModel{}}
}

func (f *fakeLockRepo) Acquire(ctx context.Context, lockKey, owner string, lockType string, expiresAt time.Time, data storagemodels.JSONBMap) (*storagemodels.LockModel, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.locks[lockKey]; ok && !existing.IsExpired() {
		return nil, false, nil
	}
	row := &storagemodels.LockModel{LockKey: lockKey, Owner: owner, LockType: lockType, LockData: data, ExpiresAt: expiresAt}
	f.locks[lockKey] = row
	return row, true, nil
}

func (f *fakeLockRepo) Release(ctx context.Context, lockKey, owner string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.locks[lockKey]
	if !ok || row.Owner != owner {
		return false, nil
	}
	delete(f.locks, lockKey)
	return true, nil
}

func (f *fakeLockRepo) Renew(ctx context.Context, lockKey, owner string, expiresAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.locks[lockKey]
	if !ok || row.Owner != owner {
		return false, nil
	}
	row.ExpiresAt = expiresAt
	return true, nil
}

func (f *fakeLockRepo) FindByKey(ctx context.Context, lockKey string) (*storagemodels.LockModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.locks[lockKey]
	if !ok {
		return nil, errors.New("lock not found")
	}
	return row, nil
}

func (f *fakeLockRepo) FindByOwner(ctx context.Context, owner string) ([]*storagemodels.LockModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storagemodels.LockModel
	for _, row := range f.locks {
		if row.Owner == owner {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeLockRepo) FindByLockType(ctx context.Context, lockType string) ([]*storagemodels.LockModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storagemodels.LockModel
	for _, row := range f.locks {
		if row.LockType == lockType {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeLockRepo) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for key, row := range f.locks {
		if row.ExpiresAt.Before(now) {
			delete(f.locks, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeLockRepo) Statistics(ctx context.Context) (*pkgmodels.LockStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &pkgmodels.LockStatistics{ByType: map[string]int{}}
	now := time.Now()
	for _, row := range f.locks {
		stats.TotalLocks++
		if row.ExpiresAt.Before(now) {
			stats.ExpiredLocks++
		}
		stats.ByType[row.LockType]++
	}
	return stats, nil
}

// fakeInstanceRepo is an in-memory stand-in for
// repository.WorkflowInstanceRepository, mirroring engine's own fake so
// engine.Scheduler can run a real (single-node) workflow to completion
// inside a schedule.Service tick.
type fakeInstanceRepo struct {
	mu        sync.Mutex
	instances map[uuid.UUID]*storagemodels.WorkflowInstanceModel
	nodes     map[uuid.UUID]*storagemodels.NodeInstanceModel
}

func newFakeInstanceRepo() *fakeInstanceRepo {
	return &fakeInstanceRepo{
		instances: map[uuid.UUID]*storagemodels.WorkflowInstanceModel{},
		nodes:     map[uuid.UUID]*storagemodels.NodeInstanceModel{},
	}
}

func (f *fakeInstanceRepo) Create(ctx context.Context, instance *storagemodels.WorkflowInstanceModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if instance.ID == uuid.Nil {
		instance.ID = uuid.New()
	}
	if instance.Status == "" {
		instance.Status = "pending"
	}
	f.instances[instance.ID] = instance
	return nil
}

func (f *fakeInstanceRepo) UpdateStatus(ctx context.Context, instance *storagemodels.WorkflowInstanceModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[instance.ID] = instance
	return nil
}

func (f *fakeInstanceRepo) FindByID(ctx context.Context, id uuid.UUID) (*storagemodels.WorkflowInstanceModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return nil, errors.New("instance not found")
	}
	return inst, nil
}

func (f *fakeInstanceRepo) FindByIDWithNodes(ctx context.Context, id uuid.UUID) (*storagemodels.WorkflowInstanceModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return nil, errors.New("instance not found")
	}
	var nodes []*storagemodels.NodeInstanceModel
	for _, n := range f.nodes {
		if n.WorkflowInstanceID == id {
			nodes = append(nodes, n)
		}
	}
	inst.Nodes = nodes
	return inst, nil
}

func (f *fakeInstanceRepo) FindByStatus(ctx context.Context, status string, limit, offset int) ([]*storagemodels.WorkflowInstanceModel, error) {
	return nil, nil
}

func (f *fakeInstanceRepo) FindByDefinitionID(ctx context.Context, definitionID uuid.UUID, limit, offset int) ([]*storagemodels.WorkflowInstanceModel, error) {
	return nil, nil
}

func (f *fakeInstanceRepo) CountActiveByDefinition(ctx context.Context, definitionID uuid.UUID) (int, error) {
	return 0, nil
}

func (f *fakeInstanceRepo) FindAllWithFilters(ctx context.Context, filters repository.InstanceFilters, limit, offset int) ([]*storagemodels.WorkflowInstanceModel, error) {
	return nil, nil
}

func (f *fakeInstanceRepo) CountWithFilters(ctx context.Context, filters repository.InstanceFilters) (int, error) {
	return 0, nil
}

func (f *fakeInstanceRepo) Stats(ctx context.Context, filters repository.InstanceFilters) (*repository.InstanceStats, error) {
	return &repository.InstanceStats{ByStatus: map[string]int{}}, nil
}

func (f *fakeInstanceRepo) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeInstanceRepo) AcquireSchedulerLock(ctx context.Context, id uuid.UUID, owner string, lockedUntil time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return false, errors.New("instance not found")
	}
	now := time.Now()
	if inst.LockOwner != "" && inst.LockOwner != owner && inst.LockedUntil != nil && inst.LockedUntil.After(now) {
		return false, nil
	}
	inst.LockOwner = owner
	inst.LockedUntil = &lockedUntil
	return true, nil
}

func (f *fakeInstanceRepo) ReleaseSchedulerLock(ctx context.Context, id uuid.UUID, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return nil
	}
	if inst.LockOwner == owner {
		inst.LockOwner = ""
		inst.LockedUntil = nil
	}
	return nil
}

func (f *fakeInstanceRepo) FindInterrupted(ctx context.Context, now time.Time) ([]*storagemodels.WorkflowInstanceModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storagemodels.WorkflowInstanceModel
	for _, inst := range f.instances {
		if inst.Status == "running" && inst.LockedUntil != nil && inst.LockedUntil.Before(now) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (f *fakeInstanceRepo) CreateNodeInstance(ctx context.Context, node *storagemodels.NodeInstanceModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	f.nodes[node.ID] = node
	return nil
}

func (f *fakeInstanceRepo) CreateNodeInstances(ctx context.Context, nodes []*storagemodels.NodeInstanceModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, node := range nodes {
		if node.ID == uuid.Nil {
			node.ID = uuid.New()
		}
		f.nodes[node.ID] = node
	}
	return nil
}

func (f *fakeInstanceRepo) UpdateNodeInstance(ctx context.Context, node *storagemodels.NodeInstanceModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[node.ID] = node
	return nil
}

func (f *fakeInstanceRepo) FindNodeInstanceByID(ctx context.Context, id uuid.UUID) (*storagemodels.NodeInstanceModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	if !ok {
		return nil, errors.New("node instance not found")
	}
	return n, nil
}

func (f *fakeInstanceRepo) FindNodeInstancesByWorkflowInstance(ctx context.Context, workflowInstanceID uuid.UUID) ([]*storagemodels.NodeInstanceModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storagemodels.NodeInstanceModel
	for _, n := range f.nodes {
		if n.WorkflowInstanceID == workflowInstanceID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeInstanceRepo) FindChildNodeInstances(ctx context.Context, parentNodeID uuid.UUID) ([]*storagemodels.NodeInstanceModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storagemodels.NodeInstanceModel
	for _, n := range f.nodes {
		if n.ParentNodeID != nil && *n.ParentNodeID == parentNodeID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeInstanceRepo) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakeWorkflowRepo implements only what the Scheduler needs
// (FindByIDWithRelations/FindByID); every other
// repository.WorkflowRepository method returns errFakeWorkflowRepoUnsupported.
type fakeWorkflowRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*storagemodels.WorkflowModel
}

func newFakeWorkflowRepo() *fakeWorkflowRepo {
	return &fakeWorkflowRepo{byID: map[uuid.UUID]*storagemodels.WorkflowModel{}}
}

var errFakeWorkflowRepoUnsupported = errors.New("fakeWorkflowRepo: method not supported by this fake")

func (f *fakeWorkflowRepo) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*storagemodels.WorkflowModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.byID[id]
	if !ok {
		return nil, errors.New("workflow not found")
	}
	return wf, nil
}

func (f *fakeWorkflowRepo) FindByID(ctx context.Context, id uuid.UUID) (*storagemodels.WorkflowModel, error) {
	return f.FindByIDWithRelations(ctx, id)
}

func (f *fakeWorkflowRepo) Create(ctx context.Context, workflow *storagemodels.WorkflowModel) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) Update(ctx context.Context, workflow *storagemodels.WorkflowModel) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) HardDelete(ctx context.Context, id uuid.UUID) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) FindByName(ctx context.Context, name string, version int) (*storagemodels.WorkflowModel, error) {
	return nil, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) FindActiveByName(ctx context.Context, name string) (*storagemodels.WorkflowModel, error) {
	return nil, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) ListVersions(ctx context.Context, name string) ([]*storagemodels.WorkflowModel, error) {
	return nil, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) ActivateVersion(ctx context.Context, name string, version int) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) FindAll(ctx context.Context, limit, offset int) ([]*storagemodels.WorkflowModel, error) {
	return nil, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) FindByStatus(ctx context.Context, status string, limit, offset int) ([]*storagemodels.WorkflowModel, error) {
	return nil, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) Count(ctx context.Context) (int, error) {
	return 0, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) CountByStatus(ctx context.Context, status string) (int, error) {
	return 0, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) FindAllWithFilters(ctx context.Context, filters repository.WorkflowFilters, limit, offset int) ([]*storagemodels.WorkflowModel, error) {
	return nil, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) CountWithFilters(ctx context.Context, filters repository.WorkflowFilters) (int, error) {
	return 0, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) CreateNode(ctx context.Context, node *storagemodels.NodeModel) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) UpdateNode(ctx context.Context, node *storagemodels.NodeModel) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) DeleteNode(ctx context.Context, id uuid.UUID) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) FindNodeByID(ctx context.Context, id uuid.UUID) (*storagemodels.NodeModel, error) {
	return nil, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) FindNodesByWorkflowID(ctx context.Context, workflowID uuid.UUID) ([]*storagemodels.NodeModel, error) {
	return nil, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) CreateEdge(ctx context.Context, edge *storagemodels.EdgeModel) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) UpdateEdge(ctx context.Context, edge *storagemodels.EdgeModel) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) DeleteEdge(ctx context.Context, id uuid.UUID) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) FindEdgeByID(ctx context.Context, id uuid.UUID) (*storagemodels.EdgeModel, error) {
	return nil, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) FindEdgesByWorkflowID(ctx context.Context, workflowID uuid.UUID) ([]*storagemodels.EdgeModel, error) {
	return nil, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) ValidateDAG(ctx context.Context, workflowID uuid.UUID) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) AssignResource(ctx context.Context, workflowID uuid.UUID, resource *storagemodels.WorkflowResourceModel, assignedBy *uuid.UUID) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) UnassignResource(ctx context.Context, workflowID, resourceID uuid.UUID) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) UnassignResourceFromAllWorkflows(ctx context.Context, resourceID uuid.UUID) (int64, error) {
	return 0, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) GetWorkflowResources(ctx context.Context, workflowID uuid.UUID) ([]*storagemodels.WorkflowResourceModel, error) {
	return nil, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) UpdateResourceAlias(ctx context.Context, workflowID, resourceID uuid.UUID, newAlias string) error {
	return errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) ResourceExists(ctx context.Context, workflowID, resourceID uuid.UUID) (bool, error) {
	return false, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) GetResourceByAlias(ctx context.Context, workflowID uuid.UUID, alias string) (*storagemodels.WorkflowResourceModel, error) {
	return nil, errFakeWorkflowRepoUnsupported
}
