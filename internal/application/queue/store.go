// Package queue implements the durable priority task queue (C2) and its
// worker pool (C3): a Postgres-backed store ordered by
// (priority desc, createdAt asc, id asc), with group pause/resume,
// delayed jobs, and a bounded-concurrency dispatch loop.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/domain/repository"
	storagemodels "github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/smilemakc/mbflow/pkg/models"
)

// Store wraps QueueRepository with the domain-typed operations used by
// the worker pool and the public adapter façade.
type Store struct {
	repo repository.QueueRepository
}

// NewStore creates a new Store.
func NewStore(repo repository.QueueRepository) *Store {
	return &Store{repo: repo}
}

// Enqueue adds a new job, optionally delayed until delayUntil.
func (s *Store) Enqueue(ctx context.Context, job *models.QueueJob) (*models.QueueJob, error) {
	row := toStorageJob(job)
	if row.MaxAttempts <= 0 {
		row.MaxAttempts = 3
	}
	if err := s.repo.Enqueue(ctx, row); err != nil {
		return nil, &models.StorageError{Op: "queue.Enqueue", Err: err}
	}
	return toDomainJob(row), nil
}

// LockNext claims the next eligible job for queueName on behalf of owner.
// Returns (nil, nil) when the queue has no eligible job right now.
func (s *Store) LockNext(ctx context.Context, queueName, owner string, leaseDuration time.Duration) (*models.QueueJob, error) {
	row, err := s.repo.LockNext(ctx, queueName, owner, time.Now().Add(leaseDuration))
	if err != nil {
		return nil, &models.StorageError{Op: "queue.LockNext", Err: err}
	}
	if row == nil {
		return nil, nil
	}
	return toDomainJob(row), nil
}

// Unlock releases a job's lease without changing its status.
func (s *Store) Unlock(ctx context.Context, id string) error {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return &models.ValidationError{Field: "id", Message: "invalid job id"}
	}
	if err := s.repo.Unlock(ctx, jobID); err != nil {
		return &models.StorageError{Op: "queue.Unlock", Err: err}
	}
	return nil
}

// Requeue schedules a retryable failure for another attempt after delay.
func (s *Store) Requeue(ctx context.Context, id string, delay time.Duration, errMsg string) error {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return &models.ValidationError{Field: "id", Message: "invalid job id"}
	}
	if err := s.repo.Requeue(ctx, jobID, time.Now().Add(delay), errMsg); err != nil {
		return &models.StorageError{Op: "queue.Requeue", Err: err}
	}
	return nil
}

// Complete moves a job to the success archive.
func (s *Store) Complete(ctx context.Context, id string, result map[string]interface{}, executionTime time.Duration) error {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return &models.ValidationError{Field: "id", Message: "invalid job id"}
	}
	if err := s.repo.MoveToSuccess(ctx, jobID, storagemodels.JSONBMap(result), executionTime); err != nil {
		return &models.StorageError{Op: "queue.Complete", Err: err}
	}
	return nil
}

// Fail archives a job to queue_failures and removes it from queue_jobs.
// This is the explicit final-reject flow, distinct from MarkAsFailed: it is
// never invoked automatically by the worker pool, only by an operator or
// retention policy that wants the job gone from the active table for good.
func (s *Store) Fail(ctx context.Context, id string, errMsg, errCode, errStack string) error {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return &models.ValidationError{Field: "id", Message: "invalid job id"}
	}
	if err := s.repo.MoveToFailure(ctx, jobID, errMsg, errCode, errStack); err != nil {
		return &models.StorageError{Op: "queue.Fail", Err: err}
	}
	return nil
}

// MarkAsFailed flips a job to status=failed in place, releasing its lock.
// The job stays in queue_jobs so RetryFailedJob can resurrect it later; the
// worker pool calls this once a job's retry budget is exhausted.
func (s *Store) MarkAsFailed(ctx context.Context, id string, errMsg, errCode, errStack string) error {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return &models.ValidationError{Field: "id", Message: "invalid job id"}
	}
	if err := s.repo.MarkAsFailed(ctx, jobID, errMsg, errCode, errStack); err != nil {
		return &models.StorageError{Op: "queue.MarkAsFailed", Err: err}
	}
	return nil
}

// RetryFailedJob clears a failed job's error fields and resets it to
// waiting, equivalent to submitting a fresh job with the same payload.
// Returns false if the job was not in status=failed.
func (s *Store) RetryFailedJob(ctx context.Context, id string) (bool, error) {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return false, &models.ValidationError{Field: "id", Message: "invalid job id"}
	}
	ok, err := s.repo.RetryFailedJob(ctx, jobID)
	if err != nil {
		return false, &models.StorageError{Op: "queue.RetryFailedJob", Err: err}
	}
	return ok, nil
}

// Outcome reports whether job id has settled: succeeded (Result populated),
// permanently failed (status=failed or archived/cancelled, Error
// populated), or is still in flight (Done=false). Node execution uses this
// to poll a job it enqueued on an earlier tick without blocking on it.
func (s *Store) Outcome(ctx context.Context, id string) (*models.JobOutcome, error) {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, &models.ValidationError{Field: "id", Message: "invalid job id"}
	}

	success, err := s.repo.FindSuccessByID(ctx, jobID)
	if err != nil {
		return nil, &models.StorageError{Op: "queue.Outcome", Err: err}
	}
	if success != nil {
		return &models.JobOutcome{Done: true, Success: true, Result: map[string]interface{}(success.Result)}, nil
	}

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.JobOutcome{Done: true, Success: false, Error: "job no longer present in queue"}, nil
		}
		return nil, &models.StorageError{Op: "queue.Outcome", Err: err}
	}
	if job.Status == "failed" {
		return &models.JobOutcome{Done: true, Success: false, Error: job.ErrorMessage}, nil
	}
	return &models.JobOutcome{Done: false}, nil
}

// Cancel removes a waiting or delayed job. Returns false if the job is
// already executing — cancellation of in-flight jobs is advisory and
// handled by the worker pool, not the store.
func (s *Store) Cancel(ctx context.Context, id string) (bool, error) {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return false, &models.ValidationError{Field: "id", Message: "invalid job id"}
	}
	ok, err := s.repo.Cancel(ctx, jobID)
	if err != nil {
		return false, &models.StorageError{Op: "queue.Cancel", Err: err}
	}
	return ok, nil
}

// PauseGroup pauses every waiting/delayed job sharing groupID.
func (s *Store) PauseGroup(ctx context.Context, queueName, groupID string) (int64, error) {
	n, err := s.repo.PauseGroup(ctx, queueName, groupID)
	if err != nil {
		return 0, &models.StorageError{Op: "queue.PauseGroup", Err: err}
	}
	return n, nil
}

// ResumeGroup resumes every paused job sharing groupID.
func (s *Store) ResumeGroup(ctx context.Context, queueName, groupID string) (int64, error) {
	n, err := s.repo.ResumeGroup(ctx, queueName, groupID)
	if err != nil {
		return 0, &models.StorageError{Op: "queue.ResumeGroup", Err: err}
	}
	return n, nil
}

// ReclaimExpiredLocks returns every orphaned executing job back to waiting.
func (s *Store) ReclaimExpiredLocks(ctx context.Context) (int64, error) {
	n, err := s.repo.ReclaimExpiredLocks(ctx, time.Now())
	if err != nil {
		return 0, &models.StorageError{Op: "queue.ReclaimExpiredLocks", Err: err}
	}
	return n, nil
}

// Stats summarizes queue health for queueName.
func (s *Store) Stats(ctx context.Context, queueName string) (*models.QueueStats, error) {
	pending, err := s.repo.CountByStatus(ctx, queueName, "waiting")
	if err != nil {
		return nil, &models.StorageError{Op: "queue.Stats", Err: err}
	}
	delayed, err := s.repo.CountByStatus(ctx, queueName, "delayed")
	if err != nil {
		return nil, &models.StorageError{Op: "queue.Stats", Err: err}
	}
	running, err := s.repo.CountByStatus(ctx, queueName, "executing")
	if err != nil {
		return nil, &models.StorageError{Op: "queue.Stats", Err: err}
	}
	return &models.QueueStats{
		Pending: pending + delayed,
		Running: running,
	}, nil
}

func toStorageJob(job *models.QueueJob) *storagemodels.QueueJobModel {
	row := &storagemodels.QueueJobModel{
		QueueName:    job.QueueName,
		GroupID:      job.GroupID,
		JobName:      job.JobName,
		ExecutorName: job.ExecutorName,
		Payload:      storagemodels.JSONBMap(job.Payload),
		Priority:     job.Priority,
		MaxAttempts:  job.MaxAttempts,
		DelayUntil:   job.DelayUntil,
		Status:       "waiting",
		Metadata:     storagemodels.JSONBMap(job.Metadata),
	}
	if job.ID != "" {
		if id, err := uuid.Parse(job.ID); err == nil {
			row.ID = id
		}
	}
	return row
}

func toDomainJob(row *storagemodels.QueueJobModel) *models.QueueJob {
	return &models.QueueJob{
		ID:           row.ID.String(),
		QueueName:    row.QueueName,
		GroupID:      row.GroupID,
		JobName:      row.JobName,
		ExecutorName: row.ExecutorName,
		Payload:      map[string]interface{}(row.Payload),
		Status:       models.QueueJobStatus(row.Status),
		Priority:     row.Priority,
		Attempts:     row.Attempts,
		MaxAttempts:  row.MaxAttempts,
		DelayUntil:   row.DelayUntil,
		LockedBy:     row.LockedBy,
		LockedUntil:  row.LockedUntil,
		ErrorMessage: row.ErrorMessage,
		ErrorCode:    row.ErrorCode,
		ErrorStack:   row.ErrorStack,
		StartedAt:    row.StartedAt,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		Metadata:     map[string]interface{}(row.Metadata),
	}
}
