package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/mbflow/internal/domain/repository"
	storagemodels "github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
)

var (
	_ repository.WorkflowInstanceRepository = (*fakeInstanceRepo)(nil)
	_ repository.WorkflowRepository         = (*fakeWorkflowRepo)(nil)
)

// fakeInstanceRepo is an in-memory stand-in for
// repository.WorkflowInstanceRepository. The scheduler/node-execution
// tests exercise real state transitions across several calls (fan-out,
// resume, lock contention), which an in-memory fake models far more
// directly than a call-by-call testify mock would.
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

func (f *fakeInstanceRepo) matchesFilters(inst *storagemodels.WorkflowInstanceModel, filters repository.InstanceFilters) bool {
	if filters.DefinitionID != nil && inst.DefinitionID != *filters.DefinitionID {
		return false
	}
	if filters.Status != nil && inst.Status != *filters.Status {
		return false
	}
	if filters.Since != nil && inst.CreatedAt.Before(*filters.Since) {
		return false
	}
	return true
}

func (f *fakeInstanceRepo) FindAllWithFilters(ctx context.Context, filters repository.InstanceFilters, limit, offset int) ([]*storagemodels.WorkflowInstanceModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storagemodels.WorkflowInstanceModel
	for _, inst := range f.instances {
		if f.matchesFilters(inst, filters) {
			out = append(out, inst)
		}
	}
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeInstanceRepo) CountWithFilters(ctx context.Context, filters repository.InstanceFilters) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, inst := range f.instances {
		if f.matchesFilters(inst, filters) {
			count++
		}
	}
	return count, nil
}

func (f *fakeInstanceRepo) Stats(ctx context.Context, filters repository.InstanceFilters) (*repository.InstanceStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &repository.InstanceStats{ByStatus: map[string]int{}}
	for _, inst := range f.instances {
		if !f.matchesFilters(inst, filters) {
			continue
		}
		stats.Total++
		stats.ByStatus[inst.Status]++
	}
	return stats, nil
}

func (f *fakeInstanceRepo) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, inst := range f.instances {
		if inst.CompletedAt != nil && inst.CompletedAt.Before(before) {
			delete(f.instances, id)
			n++
		}
	}
	return n, nil
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
// (FindByIDWithRelations); every other repository.WorkflowRepository
// method panics if exercised, which would mean a test reached behavior
// this fake wasn't built to support.
type fakeWorkflowRepo struct {
	byID map[uuid.UUID]*storagemodels.WorkflowModel
}

func newFakeWorkflowRepo() *fakeWorkflowRepo {
	return &fakeWorkflowRepo{byID: map[uuid.UUID]*storagemodels.WorkflowModel{}}
}

func (f *fakeWorkflowRepo) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*storagemodels.WorkflowModel, error) {
	wf, ok := f.byID[id]
	if !ok {
		return nil, errors.New("workflow not found")
	}
	return wf, nil
}

var errFakeWorkflowRepoUnsupported = errors.New("fakeWorkflowRepo: method not supported by this fake")

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

func (f *fakeWorkflowRepo) FindByID(ctx context.Context, id uuid.UUID) (*storagemodels.WorkflowModel, error) {
	return nil, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) FindByName(ctx context.Context, name string, version int) (*storagemodels.WorkflowModel, error) {
	return nil, errFakeWorkflowRepoUnsupported
}

func (f *fakeWorkflowRepo) FindActiveByName(ctx context.Context, name string) (*storagemodels.WorkflowModel, error) {
	for _, wf := range f.byID {
		if wf.Name == name && wf.Status == "active" {
			return wf, nil
		}
	}
	return nil, errors.New("active workflow not found for name " + name)
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
