package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	storagemodels "github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
)

type mockQueueRepo struct {
	mock.Mock
}

func (m *mockQueueRepo) Enqueue(ctx context.Context, job *storagemodels.QueueJobModel) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockQueueRepo) LockNext(ctx context.Context, queueName, owner string, lockedUntil time.Time) (*storagemodels.QueueJobModel, error) {
	args := m.Called(ctx, queueName, owner, lockedUntil)
	job, _ := args.Get(0).(*storagemodels.QueueJobModel)
	return job, args.Error(1)
}

func (m *mockQueueRepo) Unlock(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockQueueRepo) Requeue(ctx context.Context, id uuid.UUID, delayUntil time.Time, errMsg string) error {
	return m.Called(ctx, id, delayUntil, errMsg).Error(0)
}

func (m *mockQueueRepo) MoveToSuccess(ctx context.Context, id uuid.UUID, result storagemodels.JSONBMap, executionTime time.Duration) error {
	return m.Called(ctx, id, result, executionTime).Error(0)
}

func (m *mockQueueRepo) MoveToFailure(ctx context.Context, id uuid.UUID, errMsg, errCode, errStack string) error {
	return m.Called(ctx, id, errMsg, errCode, errStack).Error(0)
}

func (m *mockQueueRepo) MarkAsFailed(ctx context.Context, id uuid.UUID, errMsg, errCode, errStack string) error {
	return m.Called(ctx, id, errMsg, errCode, errStack).Error(0)
}

func (m *mockQueueRepo) RetryFailedJob(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockQueueRepo) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockQueueRepo) FindByID(ctx context.Context, id uuid.UUID) (*storagemodels.QueueJobModel, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*storagemodels.QueueJobModel)
	return job, args.Error(1)
}

func (m *mockQueueRepo) FindSuccessByID(ctx context.Context, id uuid.UUID) (*storagemodels.QueueSuccessModel, error) {
	args := m.Called(ctx, id)
	success, _ := args.Get(0).(*storagemodels.QueueSuccessModel)
	return success, args.Error(1)
}

func (m *mockQueueRepo) ListPending(ctx context.Context, queueName string, after *storagemodels.QueueJobModel, limit int) ([]*storagemodels.QueueJobModel, error) {
	args := m.Called(ctx, queueName, after, limit)
	jobs, _ := args.Get(0).([]*storagemodels.QueueJobModel)
	return jobs, args.Error(1)
}

func (m *mockQueueRepo) PauseGroup(ctx context.Context, queueName, groupID string) (int64, error) {
	args := m.Called(ctx, queueName, groupID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockQueueRepo) ResumeGroup(ctx context.Context, queueName, groupID string) (int64, error) {
	args := m.Called(ctx, queueName, groupID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockQueueRepo) ReclaimExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockQueueRepo) CountByStatus(ctx context.Context, queueName, status string) (int, error) {
	args := m.Called(ctx, queueName, status)
	return args.Int(0), args.Error(1)
}
