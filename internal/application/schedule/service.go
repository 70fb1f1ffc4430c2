// Package schedule implements the cron-driven workflow trigger (C11):
// persisted ScheduleModel rows tick independently of the in-memory
// trigger.CronScheduler, each tick gated by its own distributed lock so
// multiple scheduler processes never double-start the same run.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/smilemakc/mbflow/internal/application/engine"
	applock "github.com/smilemakc/mbflow/internal/application/lock"
	"github.com/smilemakc/mbflow/internal/domain/repository"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	storagemodels "github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/smilemakc/mbflow/pkg/models"
)

// cronParser accepts standard five-field cron expressions plus the
// predefined descriptors (@daily, @every 5m, ...). Unlike
// trigger.CronScheduler's seconds-precision triggers, schedules tick at
// minute granularity, matching conventional cron syntax.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// tickLockTTL bounds how long a single schedule tick may hold its lock.
// Short on purpose: the lock only guards the insert/start/advance
// sequence, not the started workflow's own run.
const tickLockTTL = 15 * time.Second

// Config holds Service's dependencies.
type Config struct {
	Schedules repository.ScheduleRepository
	Workflows repository.WorkflowRepository
	Scheduler *engine.Scheduler
	Locks     *applock.Service
	Logger    *logger.Logger
	// WorkerID identifies this process as a lock owner; defaults to a
	// random suffix if empty.
	WorkerID string
}

// Service implements createSchedule/updateSchedule/deleteSchedule/
// toggleSchedule/getSchedules plus the tick algorithm that drives them.
type Service struct {
	schedules repository.ScheduleRepository
	workflows repository.WorkflowRepository
	scheduler *engine.Scheduler
	locks     *applock.Service
	logger    *logger.Logger
	workerID  string
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = fmt.Sprintf("schedule-%s", uuid.New().String()[:8])
	}
	return &Service{
		schedules: cfg.Schedules,
		workflows: cfg.Workflows,
		scheduler: cfg.Scheduler,
		locks:     cfg.Locks,
		logger:    cfg.Logger,
		workerID:  workerID,
	}
}

// CreateScheduleParams describes a new cron-driven trigger.
type CreateScheduleParams struct {
	DefinitionID   uuid.UUID
	Name           string
	CronExpression string
	Timezone       string
	Input          map[string]interface{}
	MaxInstances   int
}

// CreateSchedule registers a schedule and computes its first nextRunAt.
func (s *Service) CreateSchedule(ctx context.Context, params CreateScheduleParams) (*storagemodels.ScheduleModel, error) {
	if params.DefinitionID == uuid.Nil {
		return nil, fmt.Errorf("schedule requires a definition id")
	}
	if params.Name == "" {
		return nil, fmt.Errorf("schedule requires a name")
	}
	tz := params.Timezone
	if tz == "" {
		tz = "UTC"
	}
	next, err := cronNext(params.CronExpression, tz, time.Now())
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", params.CronExpression, err)
	}
	maxInstances := params.MaxInstances
	if maxInstances <= 0 {
		maxInstances = 1
	}
	sch := &storagemodels.ScheduleModel{
		DefinitionID:   params.DefinitionID,
		Name:           params.Name,
		CronExpression: params.CronExpression,
		Timezone:       tz,
		Status:         "active",
		Input:          storagemodels.JSONBMap(params.Input),
		MaxInstances:   maxInstances,
		NextRunAt:      &next,
	}
	if err := s.schedules.Create(ctx, sch); err != nil {
		return nil, &models.StorageError{Op: "schedule.CreateSchedule", Err: err}
	}
	return sch, nil
}

// UpdateScheduleParams carries mutable schedule fields; zero values leave
// the stored field unchanged except where noted.
type UpdateScheduleParams struct {
	ID             uuid.UUID
	CronExpression string
	Timezone       string
	Input          map[string]interface{}
	MaxInstances   int
}

// UpdateSchedule mutates a schedule's cron/timezone/input/concurrency and
// recomputes nextRunAt if the cron expression or timezone changed.
func (s *Service) UpdateSchedule(ctx context.Context, params UpdateScheduleParams) (*storagemodels.ScheduleModel, error) {
	sch, err := s.schedules.FindByID(ctx, params.ID)
	if err != nil {
		return nil, &models.StorageError{Op: "schedule.UpdateSchedule", Err: err}
	}
	recompute := false
	if params.CronExpression != "" && params.CronExpression != sch.CronExpression {
		sch.CronExpression = params.CronExpression
		recompute = true
	}
	if params.Timezone != "" && params.Timezone != sch.Timezone {
		sch.Timezone = params.Timezone
		recompute = true
	}
	if params.Input != nil {
		sch.Input = storagemodels.JSONBMap(params.Input)
	}
	if params.MaxInstances > 0 {
		sch.MaxInstances = params.MaxInstances
	}
	if recompute {
		next, err := cronNext(sch.CronExpression, sch.Timezone, time.Now())
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", sch.CronExpression, err)
		}
		sch.NextRunAt = &next
	}
	if err := s.schedules.Update(ctx, sch); err != nil {
		return nil, &models.StorageError{Op: "schedule.UpdateSchedule", Err: err}
	}
	return sch, nil
}

// DeleteSchedule removes a schedule permanently.
func (s *Service) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	if err := s.schedules.Delete(ctx, id); err != nil {
		return &models.StorageError{Op: "schedule.DeleteSchedule", Err: err}
	}
	return nil
}

// ToggleSchedule pauses or reactivates a schedule without losing its
// cron configuration or history.
func (s *Service) ToggleSchedule(ctx context.Context, id uuid.UUID, enabled bool) error {
	sch, err := s.schedules.FindByID(ctx, id)
	if err != nil {
		return &models.StorageError{Op: "schedule.ToggleSchedule", Err: err}
	}
	if enabled {
		sch.Status = "active"
		next, err := cronNext(sch.CronExpression, sch.Timezone, time.Now())
		if err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", sch.CronExpression, err)
		}
		sch.NextRunAt = &next
	} else {
		sch.Status = "paused"
	}
	if err := s.schedules.Update(ctx, sch); err != nil {
		return &models.StorageError{Op: "schedule.ToggleSchedule", Err: err}
	}
	return nil
}

// GetSchedules returns every schedule not deleted.
func (s *Service) GetSchedules(ctx context.Context) ([]*storagemodels.ScheduleModel, error) {
	schedules, err := s.schedules.FindActive(ctx)
	if err != nil {
		return nil, &models.StorageError{Op: "schedule.GetSchedules", Err: err}
	}
	return schedules, nil
}

// Tick runs one pass of the tick algorithm over every schedule currently
// due. Safe to call concurrently from multiple processes: each due
// schedule is gated by its own "schedule-tick:<id>" lock, so a schedule
// contended by another worker is simply skipped this pass.
func (s *Service) Tick(ctx context.Context) error {
	now := time.Now()
	due, err := s.schedules.FindDue(ctx, now)
	if err != nil {
		return &models.StorageError{Op: "schedule.Tick", Err: err}
	}
	for _, sch := range due {
		if err := s.tickOne(ctx, sch, now); err != nil {
			s.logger.Warn("schedule tick failed", "schedule_id", sch.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) tickOne(ctx context.Context, sch *storagemodels.ScheduleModel, now time.Time) error {
	lockKey := "schedule-tick:" + sch.ID.String()
	ran, err := s.locks.WithLock(ctx, lockKey, s.workerID, models.LockTypeSchedule, tickLockTTL, func(ctx context.Context) error {
		return s.runDueSchedule(ctx, sch, now)
	})
	if err != nil {
		return err
	}
	if !ran {
		s.logger.Debug("schedule tick contended, skipping", "schedule_id", sch.ID)
	}
	return nil
}

// runDueSchedule executes steps 2-5 of the tick algorithm for a schedule
// already confirmed due and lock-held by the caller.
func (s *Service) runDueSchedule(ctx context.Context, sch *storagemodels.ScheduleModel, now time.Time) error {
	running, err := s.schedules.RunningCount(ctx, sch.ID)
	if err != nil {
		return fmt.Errorf("failed to count running executions: %w", err)
	}
	nextRunAt, nextErr := cronNext(sch.CronExpression, sch.Timezone, now)
	scheduledFor := now
	if sch.NextRunAt != nil {
		scheduledFor = *sch.NextRunAt
	}

	if running >= sch.MaxInstances {
		skipped := &storagemodels.ScheduleExecutionModel{
			ScheduleID:   sch.ID,
			Status:       "skipped",
			ScheduledFor: scheduledFor,
			SkipReason:   fmt.Sprintf("max_instances reached (%d/%d)", running, sch.MaxInstances),
		}
		if err := s.schedules.RecordExecution(ctx, skipped); err != nil {
			return fmt.Errorf("failed to record skipped execution: %w", err)
		}
		if nextErr == nil {
			return s.schedules.AdvanceNextRun(ctx, sch.ID, nextRunAt, scheduledFor)
		}
		return nil
	}

	execution := &storagemodels.ScheduleExecutionModel{
		ScheduleID:   sch.ID,
		Status:       "running",
		ScheduledFor: scheduledFor,
	}
	if err := s.schedules.RecordExecution(ctx, execution); err != nil {
		return fmt.Errorf("failed to record schedule execution: %w", err)
	}

	def, defErr := s.workflows.FindByID(ctx, sch.DefinitionID)
	if defErr != nil {
		completeErr := s.schedules.CompleteExecution(ctx, execution.ID, "failed", defErr.Error(), time.Now())
		if completeErr != nil {
			return fmt.Errorf("failed to look up workflow definition (%w) and failed to record failure (%w)", defErr, completeErr)
		}
		return fmt.Errorf("failed to look up workflow definition %s for schedule %s: %w", sch.DefinitionID, sch.ID, defErr)
	}

	inst, startErr := s.scheduler.StartWorkflow(ctx, sch.DefinitionID, def.Version, normalizeScheduleInput(sch.Input))
	if startErr != nil {
		completeErr := s.schedules.CompleteExecution(ctx, execution.ID, "failed", startErr.Error(), time.Now())
		if nextErr == nil {
			_ = s.schedules.AdvanceNextRun(ctx, sch.ID, nextRunAt, scheduledFor)
		}
		if completeErr != nil {
			return fmt.Errorf("failed to start workflow (%w) and failed to record failure (%w)", startErr, completeErr)
		}
		return fmt.Errorf("failed to start workflow for schedule %s: %w", sch.ID, startErr)
	}

	if err := s.schedules.AttachWorkflowInstance(ctx, execution.ID, inst.ID); err != nil {
		s.logger.Warn("failed to attach workflow instance to execution", "execution_id", execution.ID, "error", err)
	}

	if models.WorkflowInstanceStatus(inst.Status).IsTerminal() {
		if err := s.schedules.CompleteExecution(ctx, execution.ID, inst.Status, inst.ErrorMessage, time.Now()); err != nil {
			s.logger.Warn("failed to complete schedule execution", "execution_id", execution.ID, "error", err)
		}
	}

	if nextErr != nil {
		return fmt.Errorf("invalid cron expression %q, schedule left at current nextRunAt: %w", sch.CronExpression, nextErr)
	}
	return s.schedules.AdvanceNextRun(ctx, sch.ID, nextRunAt, scheduledFor)
}

// ReconcileRunningExecutions completes any execution still "running" whose
// workflow instance has since reached a terminal state — covers the case
// where StartWorkflow returns before the instance finishes (e.g. a node
// suspends on an external event) and the instance later completes on a
// separate scheduler tick outside this tickOne call.
func (s *Service) ReconcileRunningExecutions(ctx context.Context) error {
	running, err := s.schedules.FindRunningExecutions(ctx)
	if err != nil {
		return &models.StorageError{Op: "schedule.ReconcileRunningExecutions", Err: err}
	}
	for _, exec := range running {
		if exec.WorkflowInstanceID == nil {
			continue
		}
		inst, err := s.scheduler.GetWorkflowStatus(ctx, *exec.WorkflowInstanceID)
		if err != nil {
			s.logger.Warn("failed to look up instance for execution reconciliation", "execution_id", exec.ID, "error", err)
			continue
		}
		if !models.WorkflowInstanceStatus(inst.Status).IsTerminal() {
			continue
		}
		if err := s.schedules.CompleteExecution(ctx, exec.ID, inst.Status, inst.ErrorMessage, time.Now()); err != nil {
			s.logger.Warn("failed to complete reconciled execution", "execution_id", exec.ID, "error", err)
		}
	}
	return nil
}

// CleanupOldExecutions trims execution history older than retentionDays.
func (s *Service) CleanupOldExecutions(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	n, err := s.schedules.DeleteExecutionsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, &models.StorageError{Op: "schedule.CleanupOldExecutions", Err: err}
	}
	return n, nil
}

// cronNext parses cronExpr in the given IANA timezone and returns its next
// firing time strictly after from.
func cronNext(cronExpr, timezone string, from time.Time) (time.Time, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown timezone %q: %w", timezone, err)
		}
		loc = l
	}
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from.In(loc)), nil
}

// normalizeScheduleInput copies a schedule's stored input, normalizing any
// loosely-formatted timestamp fields (keys ending in "_at", "_date", or
// "_time") to RFC3339 before they reach the workflow's input map. Operators
// author schedules by hand and commonly write "tomorrow 9am" or "2024-01-02"
// rather than a strict timestamp; every other field passes through as-is.
func normalizeScheduleInput(input storagemodels.JSONBMap) map[string]interface{} {
	out := make(map[string]interface{}, len(input))
	for k, v := range input {
		s, ok := v.(string)
		if !ok || !isTimestampField(k) {
			out[k] = v
			continue
		}
		t, err := dateparse.ParseAny(s)
		if err != nil {
			out[k] = v
			continue
		}
		out[k] = t.UTC().Format(time.RFC3339)
	}
	return out
}

func isTimestampField(key string) bool {
	lower := strings.ToLower(key)
	return strings.HasSuffix(lower, "_at") || strings.HasSuffix(lower, "_date") || strings.HasSuffix(lower, "_time")
}
