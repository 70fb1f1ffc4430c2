package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ExecutionLogModel is one persisted, queryable entry in a workflow
// instance's execution timeline, distinct from the process-wide slog
// stream produced by internal/infrastructure/logger.
type ExecutionLogModel struct {
	bun.BaseModel `bun:"table:execution_logs,alias:el"`

	ID                 uuid.UUID  `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	WorkflowInstanceID uuid.UUID  `bun:"workflow_instance_id,notnull,type:uuid" json:"workflow_instance_id" validate:"required"`
	NodeInstanceID     *uuid.UUID `bun:"node_instance_id,type:uuid" json:"node_instance_id,omitempty"`
	Level              string     `bun:"level,notnull,default:'info'" json:"level" validate:"required,oneof=debug info warn error"`
	Message            string     `bun:"message,notnull" json:"message" validate:"required"`
	Fields             JSONBMap   `bun:"fields,type:jsonb,default:'{}'" json:"fields,omitempty"`
	CreatedAt          time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// TableName returns the table name for ExecutionLogModel.
func (ExecutionLogModel) TableName() string {
	return "execution_logs"
}

// BeforeInsert hook to set timestamps.
func (e *ExecutionLogModel) BeforeInsert(ctx interface{}) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	if e.Fields == nil {
		e.Fields = make(JSONBMap)
	}
	return nil
}
