package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
)

// QueueRepository defines persistence for the durable priority task queue.
// Ordering for dispatch is always (priority desc, created_at asc, id asc);
// every listing/locking method below is expected to apply that order.
type QueueRepository interface {
	Enqueue(ctx context.Context, job *models.QueueJobModel) error

	// LockNext atomically claims and returns the single highest-priority
	// due, unlocked, non-paused job for queueName, setting locked_by and
	// locked_until in the same statement. Returns (nil, nil) if no job is
	// eligible — an empty queue is not an error.
	LockNext(ctx context.Context, queueName, owner string, lockedUntil time.Time) (*models.QueueJobModel, error)

	// Unlock clears the lock on a job without changing its status,
	// e.g. when a worker shuts down mid-job and wants it picked up again
	// immediately rather than waiting out the lock TTL.
	Unlock(ctx context.Context, id uuid.UUID) error

	// Requeue returns a job to waiting after a retryable failure,
	// incrementing attempts and setting delayUntil per backoff policy.
	Requeue(ctx context.Context, id uuid.UUID, delayUntil time.Time, errMsg string) error

	// MoveToSuccess deletes the job from queue_jobs and inserts a
	// QueueSuccessModel row in the same transaction.
	MoveToSuccess(ctx context.Context, id uuid.UUID, result models.JSONBMap, executionTime time.Duration) error

	// MoveToFailure deletes the job from queue_jobs and inserts a
	// QueueFailureModel row in the same transaction. This is the explicit
	// final-reject flow; it is a distinct operation from MarkAsFailed and
	// is never called automatically by the worker pool on retry exhaustion.
	MoveToFailure(ctx context.Context, id uuid.UUID, errMsg, errCode, errStack string) error

	// MarkAsFailed flips a job to status=failed in place, releasing its
	// lock and recording the error. Unlike MoveToFailure, the row stays in
	// queue_jobs so RetryFailedJob can resurrect it later.
	MarkAsFailed(ctx context.Context, id uuid.UUID, errMsg, errCode, errStack string) error

	// RetryFailedJob clears a failed job's error fields and resets it to
	// waiting, guarded by the current status being 'failed'. Returns false
	// if the job was not in status=failed (no-op, not an error).
	RetryFailedJob(ctx context.Context, id uuid.UUID) (bool, error)

	// Cancel removes a waiting or delayed job outright. Returns false if
	// the job is already executing (cancellation of in-flight jobs is
	// advisory, handled by the worker pool, not the store).
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)

	FindByID(ctx context.Context, id uuid.UUID) (*models.QueueJobModel, error)

	// FindSuccessByID returns (nil, nil) if the job has not succeeded —
	// used by pollers asking "is it done yet?", not a lookup-by-key.
	FindSuccessByID(ctx context.Context, id uuid.UUID) (*models.QueueSuccessModel, error)

	// ListPending lists waiting/due jobs in dispatch order, paginated by
	// the (priority, createdAt, id) cursor.
	ListPending(ctx context.Context, queueName string, after *models.QueueJobModel, limit int) ([]*models.QueueJobModel, error)

	// PauseGroup marks every job in groupID as paused so LockNext skips them.
	PauseGroup(ctx context.Context, queueName, groupID string) (int64, error)

	// ResumeGroup clears the paused flag on every job in groupID.
	ResumeGroup(ctx context.Context, queueName, groupID string) (int64, error)

	// ReclaimExpiredLocks returns every job whose locked_until has passed
	// back to waiting — used to recover jobs orphaned by a crashed worker.
	ReclaimExpiredLocks(ctx context.Context, now time.Time) (int64, error)

	CountByStatus(ctx context.Context, queueName, status string) (int, error)
}
