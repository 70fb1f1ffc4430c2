package models

import "time"

// ScheduleStatus controls whether a schedule's ticks are currently honored.
type ScheduleStatus string

const (
	ScheduleStatusActive  ScheduleStatus = "active"
	ScheduleStatusPaused  ScheduleStatus = "paused"
	ScheduleStatusDeleted ScheduleStatus = "deleted"
)

// Schedule is a cron-driven trigger that starts workflow instances.
type Schedule struct {
	ID              string                 `json:"id"`
	DefinitionID    string                 `json:"definition_id"`
	Name            string                 `json:"name"`
	CronExpression  string                 `json:"cron_expression"`
	Timezone        string                 `json:"timezone"`
	Status          ScheduleStatus         `json:"status"`
	Input           map[string]interface{} `json:"input,omitempty"`
	MaxInstances    int                    `json:"max_instances"`
	NextRunAt       *time.Time             `json:"next_run_at,omitempty"`
	LastRunAt       *time.Time             `json:"last_run_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Active reports whether the schedule's ticks should be evaluated.
func (s *Schedule) Active() bool {
	return s.Status == ScheduleStatusActive
}

// ScheduleExecutionStatus is the outcome of one scheduled tick.
type ScheduleExecutionStatus string

const (
	ScheduleExecutionStatusTriggered ScheduleExecutionStatus = "triggered"
	ScheduleExecutionStatusSkipped   ScheduleExecutionStatus = "skipped"
	ScheduleExecutionStatusFailed    ScheduleExecutionStatus = "failed"
)

// ScheduleExecution records one tick of a Schedule, whether it started a
// workflow instance, was skipped due to maxInstances, or failed outright.
type ScheduleExecution struct {
	ID                 string                  `json:"id"`
	ScheduleID         string                  `json:"schedule_id"`
	WorkflowInstanceID string                  `json:"workflow_instance_id,omitempty"`
	Status             ScheduleExecutionStatus `json:"status"`
	ScheduledFor       time.Time               `json:"scheduled_for"`
	TriggeredAt        time.Time               `json:"triggered_at"`
	SkipReason         string                  `json:"skip_reason,omitempty"`
	ErrorMessage       string                  `json:"error_message,omitempty"`
}
