package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
)

// ScheduleRepository defines persistence for cron-driven workflow triggers.
type ScheduleRepository interface {
	Create(ctx context.Context, schedule *models.ScheduleModel) error

	Update(ctx context.Context, schedule *models.ScheduleModel) error

	Delete(ctx context.Context, id uuid.UUID) error

	FindByID(ctx context.Context, id uuid.UUID) (*models.ScheduleModel, error)

	FindActive(ctx context.Context) ([]*models.ScheduleModel, error)

	// FindDue returns active schedules whose nextRunAt has passed.
	FindDue(ctx context.Context, now time.Time) ([]*models.ScheduleModel, error)

	// AdvanceNextRun persists the new nextRunAt/lastRunAt after a tick.
	AdvanceNextRun(ctx context.Context, id uuid.UUID, nextRunAt, lastRunAt time.Time) error

	RecordExecution(ctx context.Context, execution *models.ScheduleExecutionModel) error

	// AttachWorkflowInstance writes back the instance a running execution
	// started, once the scheduler has created it.
	AttachWorkflowInstance(ctx context.Context, id, workflowInstanceID uuid.UUID) error

	// FindRunningExecutions returns every execution still in the
	// "running"/"triggered" phase, for reconciliation against instance
	// status once the started workflow terminates.
	FindRunningExecutions(ctx context.Context) ([]*models.ScheduleExecutionModel, error)

	// CompleteExecution writes back the terminal status, error (if any),
	// and duration once the started workflow instance terminates.
	CompleteExecution(ctx context.Context, id uuid.UUID, status string, errMsg string, completedAt time.Time) error

	// RunningCount reports how many executions of a schedule are still
	// in flight, gating the max-instances check on each tick.
	RunningCount(ctx context.Context, scheduleID uuid.UUID) (int, error)

	FindExecutionsBySchedule(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]*models.ScheduleExecutionModel, error)

	// DeleteExecutionsOlderThan trims schedule execution history (C11's
	// cleanupOldExecutions).
	DeleteExecutionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
