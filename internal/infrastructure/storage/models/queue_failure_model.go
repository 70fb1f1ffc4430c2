package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// QueueFailureModel is the archival record of a job that exhausted its
// retry budget and was finally rejected by the queue.
type QueueFailureModel struct {
	bun.BaseModel `bun:"table:queue_failures,alias:qf"`

	ID           uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	QueueName    string    `bun:"queue_name,notnull" json:"queue_name"`
	GroupID      string    `bun:"group_id" json:"group_id,omitempty"`
	JobName      string    `bun:"job_name,notnull" json:"job_name"`
	ExecutorName string    `bun:"executor_name,notnull" json:"executor_name"`
	Payload      JSONBMap  `bun:"payload,type:jsonb,default:'{}'" json:"payload,omitempty"`
	Attempts     int       `bun:"attempts,notnull,default:0" json:"attempts"`
	ErrorMessage string    `bun:"error_message,notnull" json:"error_message"`
	ErrorCode    string    `bun:"error_code" json:"error_code,omitempty"`
	ErrorStack   string    `bun:"error_stack" json:"error_stack,omitempty"`
	FailedAt     time.Time `bun:"failed_at,notnull" json:"failed_at"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
}

// TableName returns the table name for QueueFailureModel.
func (QueueFailureModel) TableName() string {
	return "queue_failures"
}
