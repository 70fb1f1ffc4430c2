package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagemodels "github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/smilemakc/mbflow/pkg/executor"
)

func linearWorkflowModel(t *testing.T) (*storagemodels.WorkflowModel, uuid.UUID) {
	t.Helper()
	defID := uuid.New()
	wf := &storagemodels.WorkflowModel{
		ID:     defID,
		Name:   "linear",
		Status: "active",
		Nodes: []*storagemodels.NodeModel{
			{NodeID: "a", Name: "A", WorkflowID: defID, Type: "simple", Config: storagemodels.JSONBMap{"executor": "echo"}},
			{NodeID: "b", Name: "B", WorkflowID: defID, Type: "simple", Config: storagemodels.JSONBMap{"executor": "echo"}},
		},
		Edges: []*storagemodels.EdgeModel{
			{EdgeID: "e1", WorkflowID: defID, FromNodeID: "a", ToNodeID: "b"},
		},
	}
	return wf, defID
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeInstanceRepo, *fakeWorkflowRepo, executor.Manager) {
	t.Helper()
	instRepo := newFakeInstanceRepo()
	wfRepo := newFakeWorkflowRepo()
	mgr := executor.NewManager()
	nodeSvc := NewNodeExecutionService(instRepo, mgr, testLogger())
	sched := NewScheduler(instRepo, wfRepo, nodeSvc, SchedulerConfig{WorkerID: "test-worker", LockTTL: time.Minute}, testLogger())
	return sched, instRepo, wfRepo, mgr
}

func TestScheduler_StartWorkflow_RunsLinearGraphToCompletion(t *testing.T) {
	sched, _, wfRepo, mgr := newTestScheduler(t)
	require.NoError(t, mgr.Register("echo", echoExecutor(nil)))

	wf, defID := linearWorkflowModel(t)
	wfRepo.byID[defID] = wf

	inst, err := sched.StartWorkflow(context.Background(), defID, 1, map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, "completed", inst.Status)
}

func TestScheduler_StartWorkflow_PropagatesNodeFailure(t *testing.T) {
	sched, _, wfRepo, mgr := newTestScheduler(t)
	require.NoError(t, mgr.Register("echo", failingExecutor("node a exploded")))

	wf, defID := linearWorkflowModel(t)
	wfRepo.byID[defID] = wf

	inst, err := sched.StartWorkflow(context.Background(), defID, 1, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "failed", inst.Status)
}

func TestScheduler_Tick_ReturnsErrInstanceLockHeldWhenLockHeldByOther(t *testing.T) {
	sched, instRepo, _, _ := newTestScheduler(t)

	id := uuid.New()
	instRepo.instances[id] = &storagemodels.WorkflowInstanceModel{ID: id, Status: "running"}

	ok, err := instRepo.AcquireSchedulerLock(context.Background(), id, "other-worker", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	err = sched.Tick(context.Background(), id)
	assert.ErrorIs(t, err, ErrInstanceLockHeld)
}

func TestScheduler_ReconcileInterrupted_ReadoptsLapsedLock(t *testing.T) {
	sched, instRepo, wfRepo, mgr := newTestScheduler(t)
	require.NoError(t, mgr.Register("echo", echoExecutor(nil)))

	wf, defID := linearWorkflowModel(t)
	wfRepo.byID[defID] = wf

	id := uuid.New()
	lapsed := time.Now().Add(-time.Minute)
	instRepo.instances[id] = &storagemodels.WorkflowInstanceModel{
		ID: id, DefinitionID: defID, Status: "running",
		LockOwner: "dead-worker", LockedUntil: &lapsed,
	}

	n, err := sched.ReconcileInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	inst, err := instRepo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "completed", inst.Status)
}

func TestScheduler_CancelWorkflow_IsIdempotentOnTerminalInstance(t *testing.T) {
	sched, instRepo, _, _ := newTestScheduler(t)

	id := uuid.New()
	instRepo.instances[id] = &storagemodels.WorkflowInstanceModel{ID: id, Status: "completed"}

	err := sched.CancelWorkflow(context.Background(), id, "user requested")
	require.NoError(t, err)

	inst, err := instRepo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "completed", inst.Status)
}

func TestScheduler_CancelWorkflow_CancelsRunningInstance(t *testing.T) {
	sched, instRepo, _, _ := newTestScheduler(t)

	id := uuid.New()
	instRepo.instances[id] = &storagemodels.WorkflowInstanceModel{ID: id, Status: "running"}

	err := sched.CancelWorkflow(context.Background(), id, "user requested")
	require.NoError(t, err)

	inst, err := instRepo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", inst.Status)
	assert.Equal(t, "user requested", inst.ErrorMessage)
}

func TestScheduler_ResumeWorkflow_RejectsInvalidTransition(t *testing.T) {
	sched, instRepo, _, _ := newTestScheduler(t)

	id := uuid.New()
	instRepo.instances[id] = &storagemodels.WorkflowInstanceModel{ID: id, Status: "completed"}

	err := sched.ResumeWorkflow(context.Background(), id)
	assert.Error(t, err)
}

func TestScheduler_GetWorkflowStatus_ReturnsNodes(t *testing.T) {
	sched, instRepo, _, _ := newTestScheduler(t)

	id := uuid.New()
	instRepo.instances[id] = &storagemodels.WorkflowInstanceModel{ID: id, Status: "running"}
	instRepo.nodes[uuid.New()] = &storagemodels.NodeInstanceModel{WorkflowInstanceID: id, NodeID: "a", NodeType: "simple", Status: "completed"}

	inst, err := sched.GetWorkflowStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, inst.Nodes, 1)
}
