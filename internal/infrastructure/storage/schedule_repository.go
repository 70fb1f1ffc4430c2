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

// Ensure ScheduleRepository implements the interface
var _ repository.ScheduleRepository = (*ScheduleRepository)(nil)

// ScheduleRepository implements repository.ScheduleRepository using Bun ORM.
type ScheduleRepository struct {
	db *bun.DB
}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(db *bun.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Create inserts a new schedule.
func (r *ScheduleRepository) Create(ctx context.Context, schedule *models.ScheduleModel) error {
	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}
	_, err := r.db.NewInsert().Model(schedule).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// Update persists changes to an existing schedule.
func (r *ScheduleRepository) Update(ctx context.Context, schedule *models.ScheduleModel) error {
	_, err := r.db.NewUpdate().
		Model(schedule).
		Column("status", "cron_expression", "timezone", "input", "max_instances", "next_run_at", "updated_at").
		Where("id = ?", schedule.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update schedule %s: %w", schedule.ID, err)
	}
	return nil
}

// Delete removes a schedule.
func (r *ScheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*models.ScheduleModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete schedule %s: %w", id, err)
	}
	return nil
}

// FindByID retrieves a schedule by ID.
func (r *ScheduleRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.ScheduleModel, error) {
	schedule := &models.ScheduleModel{}
	err := r.db.NewSelect().Model(schedule).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("schedule not found: %s", id)
		}
		return nil, fmt.Errorf("failed to find schedule %s: %w", id, err)
	}
	return schedule, nil
}

// FindActive retrieves every schedule not paused or deleted.
func (r *ScheduleRepository) FindActive(ctx context.Context) ([]*models.ScheduleModel, error) {
	var schedules []*models.ScheduleModel
	err := r.db.NewSelect().
		Model(&schedules).
		Where("status = 'active'").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find active schedules: %w", err)
	}
	return schedules, nil
}

// FindDue returns active schedules whose nextRunAt has passed.
func (r *ScheduleRepository) FindDue(ctx context.Context, now time.Time) ([]*models.ScheduleModel, error) {
	var schedules []*models.ScheduleModel
	err := r.db.NewSelect().
		Model(&schedules).
		Where("status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= ?", now).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find due schedules: %w", err)
	}
	return schedules, nil
}

// AdvanceNextRun persists the new nextRunAt/lastRunAt after a tick.
func (r *ScheduleRepository) AdvanceNextRun(ctx context.Context, id uuid.UUID, nextRunAt, lastRunAt time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*models.ScheduleModel)(nil)).
		Set("next_run_at = ?", nextRunAt).
		Set("last_run_at = ?", lastRunAt).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to advance next run for schedule %s: %w", id, err)
	}
	return nil
}

// RecordExecution inserts a schedule tick record.
func (r *ScheduleRepository) RecordExecution(ctx context.Context, execution *models.ScheduleExecutionModel) error {
	if execution.ID == uuid.Nil {
		execution.ID = uuid.New()
	}
	_, err := r.db.NewInsert().Model(execution).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record schedule execution: %w", err)
	}
	return nil
}

// AttachWorkflowInstance records which workflow instance a running
// execution started.
func (r *ScheduleRepository) AttachWorkflowInstance(ctx context.Context, id, workflowInstanceID uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*models.ScheduleExecutionModel)(nil)).
		Set("workflow_instance_id = ?", workflowInstanceID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to attach workflow instance to execution %s: %w", id, err)
	}
	return nil
}

// FindRunningExecutions returns every execution not yet in a terminal state.
func (r *ScheduleRepository) FindRunningExecutions(ctx context.Context) ([]*models.ScheduleExecutionModel, error) {
	var executions []*models.ScheduleExecutionModel
	err := r.db.NewSelect().
		Model(&executions).
		Where("status IN ('running', 'triggered')").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find running schedule executions: %w", err)
	}
	return executions, nil
}

// CompleteExecution writes back the terminal outcome of a started execution.
func (r *ScheduleRepository) CompleteExecution(ctx context.Context, id uuid.UUID, status string, errMsg string, completedAt time.Time) error {
	q := r.db.NewUpdate().
		Model((*models.ScheduleExecutionModel)(nil)).
		Set("status = ?", status).
		Set("completed_at = ?", completedAt).
		Set("duration_ms = EXTRACT(EPOCH FROM (? - triggered_at)) * 1000", completedAt)
	if errMsg != "" {
		q = q.Set("error_message = ?", errMsg)
	}
	_, err := q.Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to complete schedule execution %s: %w", id, err)
	}
	return nil
}

// RunningCount reports how many executions of a schedule are still running.
func (r *ScheduleRepository) RunningCount(ctx context.Context, scheduleID uuid.UUID) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.ScheduleExecutionModel)(nil)).
		Where("schedule_id = ? AND status = 'running'", scheduleID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count running executions for schedule %s: %w", scheduleID, err)
	}
	return count, nil
}

// DeleteExecutionsOlderThan trims schedule execution history.
func (r *ScheduleRepository) DeleteExecutionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.ScheduleExecutionModel)(nil)).
		Where("triggered_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete schedule executions older than %s: %w", cutoff, err)
	}
	return res.RowsAffected()
}

// FindExecutionsBySchedule retrieves tick history for a schedule.
func (r *ScheduleRepository) FindExecutionsBySchedule(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]*models.ScheduleExecutionModel, error) {
	var executions []*models.ScheduleExecutionModel
	err := r.db.NewSelect().
		Model(&executions).
		Where("schedule_id = ?", scheduleID).
		Order("triggered_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find schedule executions for %s: %w", scheduleID, err)
	}
	return executions, nil
}
