package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// QueueJobModel represents one active/waiting/delayed/paused job row.
// Succeeded and finally-failed jobs are moved to QueueSuccessModel /
// QueueFailureModel by the store so this table stays small and its
// (priority desc, created_at asc, id asc) index stays hot.
type QueueJobModel struct {
	bun.BaseModel `bun:"table:queue_jobs,alias:qj"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	QueueName    string     `bun:"queue_name,notnull" json:"queue_name" validate:"required"`
	GroupID      string     `bun:"group_id" json:"group_id,omitempty"`
	JobName      string     `bun:"job_name,notnull" json:"job_name" validate:"required"`
	ExecutorName string     `bun:"executor_name,notnull" json:"executor_name" validate:"required"`
	Payload      JSONBMap   `bun:"payload,type:jsonb,default:'{}'" json:"payload,omitempty"`
	Status       string     `bun:"status,notnull,default:'waiting'" json:"status" validate:"required,oneof=waiting executing paused delayed failed"`
	Priority     int        `bun:"priority,notnull,default:0" json:"priority"`
	Attempts     int        `bun:"attempts,notnull,default:0" json:"attempts" validate:"gte=0"`
	MaxAttempts  int        `bun:"max_attempts,notnull,default:3" json:"max_attempts" validate:"gte=1"`
	DelayUntil   *time.Time `bun:"delay_until" json:"delay_until,omitempty"`
	LockedBy     string     `bun:"locked_by" json:"locked_by,omitempty"`
	LockedUntil  *time.Time `bun:"locked_until" json:"locked_until,omitempty"`
	ErrorMessage string     `bun:"error_message" json:"error_message,omitempty"`
	ErrorCode    string     `bun:"error_code" json:"error_code,omitempty"`
	ErrorStack   string     `bun:"error_stack" json:"error_stack,omitempty"`
	StartedAt    *time.Time `bun:"started_at" json:"started_at,omitempty"`
	Metadata     JSONBMap   `bun:"metadata,type:jsonb,default:'{}'" json:"metadata,omitempty"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// TableName returns the table name for QueueJobModel.
func (QueueJobModel) TableName() string {
	return "queue_jobs"
}

// BeforeInsert hook to set timestamps.
func (q *QueueJobModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	q.CreatedAt = now
	q.UpdatedAt = now
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.Payload == nil {
		q.Payload = make(JSONBMap)
	}
	if q.Metadata == nil {
		q.Metadata = make(JSONBMap)
	}
	return nil
}

// BeforeUpdate hook to update timestamp.
func (q *QueueJobModel) BeforeUpdate(ctx interface{}) error {
	q.UpdatedAt = time.Now()
	return nil
}

// IsWaiting returns true if the job is eligible for dispatch.
func (q *QueueJobModel) IsWaiting() bool {
	return q.Status == "waiting"
}

// IsExecuting returns true if a worker currently holds the job.
func (q *QueueJobModel) IsExecuting() bool {
	return q.Status == "executing"
}

// IsLocked reports whether the job's lock has not yet expired.
func (q *QueueJobModel) IsLocked() bool {
	return q.LockedUntil != nil && q.LockedUntil.After(time.Now())
}

// IsDue reports whether a delayed job has become eligible for dispatch.
func (q *QueueJobModel) IsDue() bool {
	return q.DelayUntil == nil || !q.DelayUntil.After(time.Now())
}

// HasAttemptsLeft reports whether the job may still be retried.
func (q *QueueJobModel) HasAttemptsLeft() bool {
	return q.Attempts < q.MaxAttempts
}

// MarkLocked claims the job for a worker until lockedUntil.
func (q *QueueJobModel) MarkLocked(owner string, lockedUntil time.Time) {
	q.Status = "executing"
	q.LockedBy = owner
	q.LockedUntil = &lockedUntil
	now := time.Now()
	q.StartedAt = &now
	q.Attempts++
}

// MarkReleased clears the lock and returns the job to waiting, e.g. after a
// retryable failure or an explicit cancellation of an in-flight job.
func (q *QueueJobModel) MarkReleased() {
	q.Status = "waiting"
	q.LockedBy = ""
	q.LockedUntil = nil
}
