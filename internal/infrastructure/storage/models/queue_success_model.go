package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// QueueSuccessModel is the archival record of a job that completed
// successfully. No metadata column: the source queue_jobs row's metadata
// is intentionally dropped on the success-move, not carried forward.
type QueueSuccessModel struct {
	bun.BaseModel `bun:"table:queue_successes,alias:qs"`

	ID              uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	QueueName       string    `bun:"queue_name,notnull" json:"queue_name"`
	GroupID         string    `bun:"group_id" json:"group_id,omitempty"`
	JobName         string    `bun:"job_name,notnull" json:"job_name"`
	ExecutorName    string    `bun:"executor_name,notnull" json:"executor_name"`
	Payload         JSONBMap  `bun:"payload,type:jsonb,default:'{}'" json:"payload,omitempty"`
	Result          JSONBMap  `bun:"result,type:jsonb" json:"result,omitempty"`
	Priority        int       `bun:"priority,notnull,default:0" json:"priority"`
	Attempts        int       `bun:"attempts,notnull,default:0" json:"attempts"`
	ExecutionTimeMs int64     `bun:"execution_time_ms,notnull,default:0" json:"execution_time_ms"`
	StartedAt       time.Time `bun:"started_at,notnull" json:"started_at"`
	CompletedAt     time.Time `bun:"completed_at,notnull" json:"completed_at"`
	CreatedAt       time.Time `bun:"created_at,notnull" json:"created_at"`
}

// TableName returns the table name for QueueSuccessModel.
func (QueueSuccessModel) TableName() string {
	return "queue_successes"
}

// ExecutionTime returns the job's run duration as a time.Duration.
func (q *QueueSuccessModel) ExecutionTime() time.Duration {
	return time.Duration(q.ExecutionTimeMs) * time.Millisecond
}
