package serviceapi

import (
	"context"

	"github.com/google/uuid"

	storagemodels "github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/smilemakc/mbflow/pkg/models"

	"github.com/smilemakc/mbflow/internal/application/schedule"
)

// CreateScheduleParams contains parameters for creating a cron-driven
// workflow schedule.
type CreateScheduleParams struct {
	DefinitionID   uuid.UUID
	Name           string
	CronExpression string
	Timezone       string
	Input          map[string]interface{}
	MaxInstances   int
}

func (o *Operations) CreateSchedule(ctx context.Context, params CreateScheduleParams) (*models.Schedule, error) {
	if params.Name == "" {
		return nil, NewValidationError("NAME_REQUIRED", "Schedule name is required")
	}
	if params.CronExpression == "" {
		return nil, NewValidationError("CRON_EXPRESSION_REQUIRED", "Schedule cron expression is required")
	}

	sch, err := o.ScheduleSvc.CreateSchedule(ctx, schedule.CreateScheduleParams{
		DefinitionID:   params.DefinitionID,
		Name:           params.Name,
		CronExpression: params.CronExpression,
		Timezone:       params.Timezone,
		Input:          params.Input,
		MaxInstances:   params.MaxInstances,
	})
	if err != nil {
		o.Logger.Error("Failed to create schedule", "error", err, "name", params.Name)
		return nil, err
	}
	return scheduleModelToDomain(sch), nil
}

// UpdateScheduleParams contains parameters for updating a schedule.
type UpdateScheduleParams struct {
	ScheduleID     uuid.UUID
	CronExpression string
	Timezone       string
	Input          map[string]interface{}
	MaxInstances   int
}

func (o *Operations) UpdateSchedule(ctx context.Context, params UpdateScheduleParams) (*models.Schedule, error) {
	sch, err := o.ScheduleSvc.UpdateSchedule(ctx, schedule.UpdateScheduleParams{
		ID:             params.ScheduleID,
		CronExpression: params.CronExpression,
		Timezone:       params.Timezone,
		Input:          params.Input,
		MaxInstances:   params.MaxInstances,
	})
	if err != nil {
		o.Logger.Error("Failed to update schedule", "error", err, "schedule_id", params.ScheduleID)
		return nil, err
	}
	return scheduleModelToDomain(sch), nil
}

// DeleteScheduleParams contains parameters for deleting a schedule.
type DeleteScheduleParams struct {
	ScheduleID uuid.UUID
}

func (o *Operations) DeleteSchedule(ctx context.Context, params DeleteScheduleParams) error {
	if err := o.ScheduleSvc.DeleteSchedule(ctx, params.ScheduleID); err != nil {
		o.Logger.Error("Failed to delete schedule", "error", err, "schedule_id", params.ScheduleID)
		return err
	}
	return nil
}

// ToggleScheduleParams contains parameters for pausing/reactivating a schedule.
type ToggleScheduleParams struct {
	ScheduleID uuid.UUID
	Enabled    bool
}

func (o *Operations) ToggleSchedule(ctx context.Context, params ToggleScheduleParams) error {
	if err := o.ScheduleSvc.ToggleSchedule(ctx, params.ScheduleID, params.Enabled); err != nil {
		o.Logger.Error("Failed to toggle schedule", "error", err, "schedule_id", params.ScheduleID, "enabled", params.Enabled)
		return err
	}
	return nil
}

// GetSchedulesResult contains the result of listing schedules.
type GetSchedulesResult struct {
	Schedules []*models.Schedule
}

func (o *Operations) GetSchedules(ctx context.Context) (*GetSchedulesResult, error) {
	schedules, err := o.ScheduleSvc.GetSchedules(ctx)
	if err != nil {
		o.Logger.Error("Failed to list schedules", "error", err)
		return nil, err
	}
	out := make([]*models.Schedule, len(schedules))
	for i, sch := range schedules {
		out[i] = scheduleModelToDomain(sch)
	}
	return &GetSchedulesResult{Schedules: out}, nil
}

func scheduleModelToDomain(sch *storagemodels.ScheduleModel) *models.Schedule {
	if sch == nil {
		return nil
	}
	return &models.Schedule{
		ID:             sch.ID.String(),
		DefinitionID:   sch.DefinitionID.String(),
		Name:           sch.Name,
		CronExpression: sch.CronExpression,
		Timezone:       sch.Timezone,
		Status:         models.ScheduleStatus(sch.Status),
		Input:          map[string]interface{}(sch.Input),
		MaxInstances:   sch.MaxInstances,
		NextRunAt:      sch.NextRunAt,
		LastRunAt:      sch.LastRunAt,
		CreatedAt:      sch.CreatedAt,
		UpdatedAt:      sch.UpdatedAt,
	}
}
