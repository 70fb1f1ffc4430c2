package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/domain/repository"
	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/uptrace/bun"
)

// Ensure QueueRepository implements the interface
var _ repository.QueueRepository = (*QueueRepository)(nil)

// QueueRepository implements repository.QueueRepository using Bun ORM.
type QueueRepository struct {
	db *bun.DB
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(db *bun.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue inserts a new waiting (or delayed) job.
func (r *QueueRepository) Enqueue(ctx context.Context, job *models.QueueJobModel) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.DelayUntil != nil && job.DelayUntil.After(time.Now()) {
		job.Status = "delayed"
	}
	_, err := r.db.NewInsert().Model(job).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// LockNext atomically claims the single highest-priority due, unlocked,
// non-paused job for queueName. The SELECT ... FOR UPDATE SKIP LOCKED
// subselect plus the status/locked_until predicates on the outer UPDATE
// make this safe for multiple workers polling concurrently: a worker that
// loses the race simply sees zero rows affected on this job and moves on.
func (r *QueueRepository) LockNext(ctx context.Context, queueName, owner string, lockedUntil time.Time) (*models.QueueJobModel, error) {
	job := &models.QueueJobModel{}
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(job).
			Where("queue_name = ?", queueName).
			Where("status IN (?)", bun.In([]string{"waiting", "delayed"})).
			Where("delay_until IS NULL OR delay_until <= ?", time.Now()).
			Where("locked_until IS NULL OR locked_until < ?", time.Now()).
			Order("priority DESC", "created_at ASC", "id ASC").
			Limit(1).
			For("UPDATE SKIP LOCKED").
			Scan(ctx)
		if err != nil {
			return err
		}
		job.MarkLocked(owner, lockedUntil)
		_, err = tx.NewUpdate().
			Model(job).
			Column("status", "locked_by", "locked_until", "started_at", "attempts", "updated_at").
			Where("id = ?", job.ID).
			Exec(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock next job for %s: %w", queueName, err)
	}
	return job, nil
}

// Unlock clears the lock on a job without changing its status.
func (r *QueueRepository) Unlock(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*models.QueueJobModel)(nil)).
		Set("status = 'waiting'").
		Set("locked_by = ''").
		Set("locked_until = NULL").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to unlock job %s: %w", id, err)
	}
	return nil
}

// Requeue returns a job to waiting after a retryable failure.
func (r *QueueRepository) Requeue(ctx context.Context, id uuid.UUID, delayUntil time.Time, errMsg string) error {
	_, err := r.db.NewUpdate().
		Model((*models.QueueJobModel)(nil)).
		Set("status = 'delayed'").
		Set("locked_by = ''").
		Set("locked_until = NULL").
		Set("delay_until = ?", delayUntil).
		Set("error_message = ?", errMsg).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", id, err)
	}
	return nil
}

// MoveToSuccess deletes the job and records a QueueSuccessModel row in the
// same transaction. Metadata is intentionally dropped.
func (r *QueueRepository) MoveToSuccess(ctx context.Context, id uuid.UUID, result models.JSONBMap, executionTime time.Duration) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		job := &models.QueueJobModel{}
		if err := tx.NewSelect().Model(job).Where("id = ?", id).Scan(ctx); err != nil {
			return fmt.Errorf("failed to load job %s before success move: %w", id, err)
		}

		success := &models.QueueSuccessModel{
			ID:              job.ID,
			QueueName:       job.QueueName,
			GroupID:         job.GroupID,
			JobName:         job.JobName,
			ExecutorName:    job.ExecutorName,
			Payload:         job.Payload,
			Result:          result,
			Priority:        job.Priority,
			Attempts:        job.Attempts,
			ExecutionTimeMs: executionTime.Milliseconds(),
			StartedAt:       valueOrNow(job.StartedAt),
			CompletedAt:     time.Now(),
			CreatedAt:       job.CreatedAt,
		}
		if _, err := tx.NewInsert().Model(success).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert queue success %s: %w", id, err)
		}
		if _, err := tx.NewDelete().Model((*models.QueueJobModel)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete job %s after success move: %w", id, err)
		}
		return nil
	})
}

// MoveToFailure deletes the job and records a QueueFailureModel row in the
// same transaction.
func (r *QueueRepository) MoveToFailure(ctx context.Context, id uuid.UUID, errMsg, errCode, errStack string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		job := &models.QueueJobModel{}
		if err := tx.NewSelect().Model(job).Where("id = ?", id).Scan(ctx); err != nil {
			return fmt.Errorf("failed to load job %s before failure move: %w", id, err)
		}

		failure := &models.QueueFailureModel{
			ID:           job.ID,
			QueueName:    job.QueueName,
			GroupID:      job.GroupID,
			JobName:      job.JobName,
			ExecutorName: job.ExecutorName,
			Payload:      job.Payload,
			Attempts:     job.Attempts,
			ErrorMessage: errMsg,
			ErrorCode:    errCode,
			ErrorStack:   errStack,
			FailedAt:     time.Now(),
			CreatedAt:    job.CreatedAt,
		}
		if _, err := tx.NewInsert().Model(failure).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert queue failure %s: %w", id, err)
		}
		if _, err := tx.NewDelete().Model((*models.QueueJobModel)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete job %s after failure move: %w", id, err)
		}
		return nil
	})
}

// MarkAsFailed flips a job to status=failed in place and releases its lock.
// The row stays in queue_jobs — it is only archived to queue_failures by an
// explicit, separate MoveToFailure call.
func (r *QueueRepository) MarkAsFailed(ctx context.Context, id uuid.UUID, errMsg, errCode, errStack string) error {
	_, err := r.db.NewUpdate().
		Model((*models.QueueJobModel)(nil)).
		Set("status = 'failed'").
		Set("locked_by = ''").
		Set("locked_until = NULL").
		Set("error_message = ?", errMsg).
		Set("error_code = ?", errCode).
		Set("error_stack = ?", errStack).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark job %s as failed: %w", id, err)
	}
	return nil
}

// RetryFailedJob clears a failed job's error fields and resets it to
// waiting, guarded by the current status being 'failed' so a job that has
// since been retried (or archived) by another caller is left untouched.
func (r *QueueRepository) RetryFailedJob(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*models.QueueJobModel)(nil)).
		Set("status = 'waiting'").
		Set("error_message = ''").
		Set("error_code = ''").
		Set("error_stack = ''").
		Set("locked_by = ''").
		Set("locked_until = NULL").
		Set("delay_until = NULL").
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND status = 'failed'", id).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to retry failed job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read retry result for %s: %w", id, err)
	}
	return affected > 0, nil
}

// Cancel removes a waiting or delayed job outright.
func (r *QueueRepository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*models.QueueJobModel)(nil)).
		Where("id = ? AND status IN (?)", id, bun.In([]string{"waiting", "delayed", "paused"})).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read cancel result for %s: %w", id, err)
	}
	return affected > 0, nil
}

// FindByID retrieves a job by ID.
func (r *QueueRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.QueueJobModel, error) {
	job := &models.QueueJobModel{}
	err := r.db.NewSelect().Model(job).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("queue job not found: %s: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to find job %s: %w", id, err)
	}
	return job, nil
}

// FindSuccessByID retrieves a job's success archive row, or (nil, nil) if
// the job has not (yet, or ever) succeeded — an empty result is not an
// error, since polling callers use this to ask "is it done yet?".
func (r *QueueRepository) FindSuccessByID(ctx context.Context, id uuid.UUID) (*models.QueueSuccessModel, error) {
	success := &models.QueueSuccessModel{}
	err := r.db.NewSelect().Model(success).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find queue success %s: %w", id, err)
	}
	return success, nil
}

// ListPending lists waiting/due jobs in dispatch order, paginated by the
// (priority, createdAt, id) cursor carried on `after`.
func (r *QueueRepository) ListPending(ctx context.Context, queueName string, after *models.QueueJobModel, limit int) ([]*models.QueueJobModel, error) {
	var jobs []*models.QueueJobModel
	q := r.db.NewSelect().
		Model(&jobs).
		Where("queue_name = ?", queueName).
		Where("status IN (?)", bun.In([]string{"waiting", "delayed"})).
		Order("priority DESC", "created_at ASC", "id ASC").
		Limit(limit)

	if after != nil {
		q = q.Where(
			"(priority, created_at, id) < (?, ?, ?)",
			after.Priority, after.CreatedAt, after.ID,
		)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list pending jobs for %s: %w", queueName, err)
	}
	return jobs, nil
}

// PauseGroup marks every job in groupID as paused so LockNext skips them.
func (r *QueueRepository) PauseGroup(ctx context.Context, queueName, groupID string) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*models.QueueJobModel)(nil)).
		Set("status = 'paused'").
		Set("updated_at = ?", time.Now()).
		Where("queue_name = ? AND group_id = ? AND status IN (?)", queueName, groupID, bun.In([]string{"waiting", "delayed"})).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to pause group %s: %w", groupID, err)
	}
	return res.RowsAffected()
}

// ResumeGroup clears the paused flag on every job in groupID.
func (r *QueueRepository) ResumeGroup(ctx context.Context, queueName, groupID string) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*models.QueueJobModel)(nil)).
		Set("status = 'waiting'").
		Set("updated_at = ?", time.Now()).
		Where("queue_name = ? AND group_id = ? AND status = 'paused'", queueName, groupID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to resume group %s: %w", groupID, err)
	}
	return res.RowsAffected()
}

// ReclaimExpiredLocks returns every job whose locked_until has passed back
// to waiting, recovering jobs orphaned by a crashed worker.
func (r *QueueRepository) ReclaimExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*models.QueueJobModel)(nil)).
		Set("status = 'waiting'").
		Set("locked_by = ''").
		Set("locked_until = NULL").
		Set("updated_at = ?", now).
		Where("status = 'executing' AND locked_until < ?", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired locks: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns the number of jobs in status for queueName.
func (r *QueueRepository) CountByStatus(ctx context.Context, queueName, status string) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.QueueJobModel)(nil)).
		Where("queue_name = ? AND status = ?", queueName, status).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s jobs for %s: %w", status, queueName, err)
	}
	return count, nil
}

func valueOrNow(t *time.Time) time.Time {
	if t == nil {
		return time.Now()
	}
	return *t
}
