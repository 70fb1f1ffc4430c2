package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/smilemakc/mbflow/testutil"
)

func setupScheduleRepoTest(t *testing.T) (*ScheduleRepository, uuid.UUID) {
	t.Helper()
	db, _ := testutil.SetupTestTx(t)
	defID := seedWorkflowDefinition(t, db)
	return NewScheduleRepository(db), defID
}

func TestScheduleRepository_CreateUpdateFindByID(t *testing.T) {
	t.Parallel()
	repo, defID := setupScheduleRepoTest(t)
	ctx := context.Background()

	next := time.Now().Add(time.Minute)
	sched := &models.ScheduleModel{
		DefinitionID:   defID,
		Name:           "nightly-sync",
		CronExpression: "0 0 * * *",
		Status:         "active",
		Input:          models.JSONBMap{},
		MaxInstances:   1,
		NextRunAt:      &next,
	}
	require.NoError(t, repo.Create(ctx, sched))

	found, err := repo.FindByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly-sync", found.Name)

	found.Status = "paused"
	require.NoError(t, repo.Update(ctx, found))

	reloaded, err := repo.FindByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "paused", reloaded.Status)
}

func TestScheduleRepository_FindActiveAndFindDue(t *testing.T) {
	t.Parallel()
	repo, defID := setupScheduleRepoTest(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := &models.ScheduleModel{DefinitionID: defID, Name: "due", CronExpression: "* * * * *", Status: "active", Input: models.JSONBMap{}, MaxInstances: 1, NextRunAt: &past}
	require.NoError(t, repo.Create(ctx, due))
	notYetDue := &models.ScheduleModel{DefinitionID: defID, Name: "not-due", CronExpression: "* * * * *", Status: "active", Input: models.JSONBMap{}, MaxInstances: 1, NextRunAt: &future}
	require.NoError(t, repo.Create(ctx, notYetDue))
	paused := &models.ScheduleModel{DefinitionID: defID, Name: "paused", CronExpression: "* * * * *", Status: "paused", Input: models.JSONBMap{}, MaxInstances: 1, NextRunAt: &past}
	require.NoError(t, repo.Create(ctx, paused))

	active, err := repo.FindActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2, "only active, non-paused schedules count")

	dueNow, err := repo.FindDue(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, dueNow, 1)
	assert.Equal(t, "due", dueNow[0].Name)
}

func TestScheduleRepository_AdvanceNextRun(t *testing.T) {
	t.Parallel()
	repo, defID := setupScheduleRepoTest(t)
	ctx := context.Background()

	sched := &models.ScheduleModel{DefinitionID: defID, Name: "advance-me", CronExpression: "* * * * *", Status: "active", Input: models.JSONBMap{}, MaxInstances: 1}
	require.NoError(t, repo.Create(ctx, sched))

	nextRun := time.Now().Add(2 * time.Hour).Truncate(time.Millisecond)
	lastRun := time.Now().Truncate(time.Millisecond)
	require.NoError(t, repo.AdvanceNextRun(ctx, sched.ID, nextRun, lastRun))

	found, err := repo.FindByID(ctx, sched.ID)
	require.NoError(t, err)
	require.NotNil(t, found.NextRunAt)
	assert.WithinDuration(t, nextRun, *found.NextRunAt, time.Second)
	require.NotNil(t, found.LastRunAt)
	assert.WithinDuration(t, lastRun, *found.LastRunAt, time.Second)
}

func TestScheduleRepository_RecordExecutionAndCompleteExecution(t *testing.T) {
	t.Parallel()
	repo, defID := setupScheduleRepoTest(t)
	ctx := context.Background()

	sched := &models.ScheduleModel{DefinitionID: defID, Name: "exec-tracking", CronExpression: "* * * * *", Status: "active", Input: models.JSONBMap{}, MaxInstances: 1}
	require.NoError(t, repo.Create(ctx, sched))

	exec := &models.ScheduleExecutionModel{
		ScheduleID:   sched.ID,
		Status:       "running",
		ScheduledFor: time.Now(),
	}
	require.NoError(t, repo.RecordExecution(ctx, exec))

	running, err := repo.RunningCount(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, running)

	wfInstanceID := uuid.New()
	require.NoError(t, repo.AttachWorkflowInstance(ctx, exec.ID, wfInstanceID))

	require.NoError(t, repo.CompleteExecution(ctx, exec.ID, "completed", "", time.Now()))

	running, err = repo.RunningCount(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, running, "a completed execution must no longer count as running")

	history, err := repo.FindExecutionsBySchedule(ctx, sched.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "completed", history[0].Status)
	require.NotNil(t, history[0].WorkflowInstanceID)
	assert.Equal(t, wfInstanceID, *history[0].WorkflowInstanceID)
}

func TestScheduleRepository_FindRunningExecutions(t *testing.T) {
	t.Parallel()
	repo, defID := setupScheduleRepoTest(t)
	ctx := context.Background()

	sched := &models.ScheduleModel{DefinitionID: defID, Name: "running-exec", CronExpression: "* * * * *", Status: "active", Input: models.JSONBMap{}, MaxInstances: 1}
	require.NoError(t, repo.Create(ctx, sched))

	require.NoError(t, repo.RecordExecution(ctx, &models.ScheduleExecutionModel{ScheduleID: sched.ID, Status: "triggered", ScheduledFor: time.Now()}))
	require.NoError(t, repo.RecordExecution(ctx, &models.ScheduleExecutionModel{ScheduleID: sched.ID, Status: "completed", ScheduledFor: time.Now()}))

	running, err := repo.FindRunningExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "triggered", running[0].Status)
}

func TestScheduleRepository_DeleteExecutionsOlderThan(t *testing.T) {
	t.Parallel()
	repo, defID := setupScheduleRepoTest(t)
	ctx := context.Background()

	sched := &models.ScheduleModel{DefinitionID: defID, Name: "trim-me", CronExpression: "* * * * *", Status: "active", Input: models.JSONBMap{}, MaxInstances: 1}
	require.NoError(t, repo.Create(ctx, sched))
	require.NoError(t, repo.RecordExecution(ctx, &models.ScheduleExecutionModel{ScheduleID: sched.ID, Status: "completed", ScheduledFor: time.Now()}))

	deleted, err := repo.DeleteExecutionsOlderThan(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	deleted, err = repo.DeleteExecutionsOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestScheduleRepository_Delete(t *testing.T) {
	t.Parallel()
	repo, defID := setupScheduleRepoTest(t)
	ctx := context.Background()

	sched := &models.ScheduleModel{DefinitionID: defID, Name: "to-delete", CronExpression: "* * * * *", Status: "active", Input: models.JSONBMap{}, MaxInstances: 1}
	require.NoError(t, repo.Create(ctx, sched))
	require.NoError(t, repo.Delete(ctx, sched.ID))

	_, err := repo.FindByID(ctx, sched.ID)
	assert.Error(t, err)
}
