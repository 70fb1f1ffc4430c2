package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ScheduleModel is a cron-driven trigger that starts workflow instances.
// Promoted from the teacher's in-memory trigger/state.go bookkeeping into
// a persisted row so schedule progress survives a scheduler restart.
type ScheduleModel struct {
	bun.BaseModel `bun:"table:schedules,alias:sc"`

	ID             uuid.UUID  `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	DefinitionID   uuid.UUID  `bun:"definition_id,notnull,type:uuid" json:"definition_id" validate:"required"`
	Name           string     `bun:"name,notnull" json:"name" validate:"required,max=255"`
	CronExpression string     `bun:"cron_expression,notnull" json:"cron_expression" validate:"required"`
	Timezone       string     `bun:"timezone,notnull,default:'UTC'" json:"timezone"`
	Status         string     `bun:"status,notnull,default:'active'" json:"status" validate:"required,oneof=active paused deleted"`
	Input          JSONBMap   `bun:"input,type:jsonb,default:'{}'" json:"input,omitempty"`
	MaxInstances   int        `bun:"max_instances,notnull,default:1" json:"max_instances" validate:"gte=1"`
	NextRunAt      *time.Time `bun:"next_run_at" json:"next_run_at,omitempty"`
	LastRunAt      *time.Time `bun:"last_run_at" json:"last_run_at,omitempty"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	// Relationships
	Definition *WorkflowModel            `bun:"rel:belongs-to,join:definition_id=id" json:"-"`
	Executions []*ScheduleExecutionModel `bun:"rel:has-many,join:id=schedule_id" json:"executions,omitempty"`
}

// TableName returns the table name for ScheduleModel.
func (ScheduleModel) TableName() string {
	return "schedules"
}

// BeforeInsert hook to set timestamps.
func (s *ScheduleModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Input == nil {
		s.Input = make(JSONBMap)
	}
	return nil
}

// BeforeUpdate hook to update timestamp.
func (s *ScheduleModel) BeforeUpdate(ctx interface{}) error {
	s.UpdatedAt = time.Now()
	return nil
}

// IsActive reports whether the schedule's ticks should be evaluated.
func (s *ScheduleModel) IsActive() bool {
	return s.Status == "active"
}

// ScheduleExecutionModel records one tick of a ScheduleModel.
type ScheduleExecutionModel struct {
	bun.BaseModel `bun:"table:schedule_executions,alias:se"`

	ID                 uuid.UUID  `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	ScheduleID         uuid.UUID  `bun:"schedule_id,notnull,type:uuid" json:"schedule_id" validate:"required"`
	WorkflowInstanceID *uuid.UUID `bun:"workflow_instance_id,type:uuid" json:"workflow_instance_id,omitempty"`
	Status             string     `bun:"status,notnull" json:"status" validate:"required,oneof=running triggered completed skipped failed"`
	ScheduledFor       time.Time  `bun:"scheduled_for,notnull" json:"scheduled_for"`
	TriggeredAt        time.Time  `bun:"triggered_at,notnull,default:current_timestamp" json:"triggered_at"`
	CompletedAt        *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
	DurationMs         int64      `bun:"duration_ms" json:"duration_ms,omitempty"`
	SkipReason         string     `bun:"skip_reason" json:"skip_reason,omitempty"`
	ErrorMessage       string     `bun:"error_message" json:"error_message,omitempty"`
}

// TableName returns the table name for ScheduleExecutionModel.
func (ScheduleExecutionModel) TableName() string {
	return "schedule_executions"
}

// BeforeInsert hook to set the id and triggered_at timestamp.
func (se *ScheduleExecutionModel) BeforeInsert(ctx interface{}) error {
	if se.ID == uuid.Nil {
		se.ID = uuid.New()
	}
	if se.TriggeredAt.IsZero() {
		se.TriggeredAt = time.Now()
	}
	return nil
}
