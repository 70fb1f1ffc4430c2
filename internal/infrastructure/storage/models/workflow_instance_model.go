package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WorkflowInstanceModel represents one durable, resumable execution of a
// WorkflowModel. Unlike ExecutionModel (the teacher's in-memory-oriented
// run record), every status transition here is persisted before the
// scheduler acts on it, so a crashed process can resume from CurrentNodeID.
type WorkflowInstanceModel struct {
	bun.BaseModel `bun:"table:workflow_instances,alias:wi"`

	ID            uuid.UUID  `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	DefinitionID  uuid.UUID  `bun:"definition_id,notnull,type:uuid" json:"definition_id" validate:"required"`
	Version       int        `bun:"version,notnull,default:1" json:"version" validate:"gte=1"`
	Status        string     `bun:"status,notnull,default:'pending'" json:"status" validate:"required,oneof=pending running paused completed failed cancelled interrupted"`
	CurrentNodeID string     `bun:"current_node_id" json:"current_node_id,omitempty"`
	Input         JSONBMap   `bun:"input,type:jsonb,default:'{}'" json:"input,omitempty"`
	Variables     JSONBMap   `bun:"variables,type:jsonb,default:'{}'" json:"variables,omitempty"`
	Output        JSONBMap   `bun:"output,type:jsonb" json:"output,omitempty"`
	StartedAt     *time.Time `bun:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
	RetryCount    int        `bun:"retry_count,notnull,default:0" json:"retry_count" validate:"gte=0"`
	MaxRetries    int        `bun:"max_retries,notnull,default:0" json:"max_retries" validate:"gte=0"`
	ErrorMessage  string     `bun:"error_message" json:"error_message,omitempty"`
	LockOwner     string     `bun:"lock_owner" json:"lock_owner,omitempty"`
	LockedUntil   *time.Time `bun:"locked_until" json:"locked_until,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	// Relationships
	Definition *WorkflowModel       `bun:"rel:belongs-to,join:definition_id=id" json:"definition,omitempty"`
	Nodes      []*NodeInstanceModel `bun:"rel:has-many,join:id=workflow_instance_id" json:"nodes,omitempty"`
}

// TableName returns the table name for WorkflowInstanceModel.
func (WorkflowInstanceModel) TableName() string {
	return "workflow_instances"
}

// BeforeInsert hook to set timestamps.
func (w *WorkflowInstanceModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	w.CreatedAt = now
	w.UpdatedAt = now
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Input == nil {
		w.Input = make(JSONBMap)
	}
	if w.Variables == nil {
		w.Variables = make(JSONBMap)
	}
	return nil
}

// BeforeUpdate hook to update timestamp.
func (w *WorkflowInstanceModel) BeforeUpdate(ctx interface{}) error {
	w.UpdatedAt = time.Now()
	return nil
}

// IsTerminal returns true if the instance can never transition again.
func (w *WorkflowInstanceModel) IsTerminal() bool {
	return w.Status == "completed" || w.Status == "failed" || w.Status == "cancelled"
}

// IsInterrupted returns true if the instance was left running when its
// scheduler lock lapsed — the signal the scheduler uses to re-adopt it.
func (w *WorkflowInstanceModel) IsInterrupted() bool {
	return w.Status == "interrupted"
}

// MarkStarted sets the started timestamp and status.
func (w *WorkflowInstanceModel) MarkStarted() {
	now := time.Now()
	w.StartedAt = &now
	w.Status = "running"
}

// MarkCompleted sets the completed timestamp and status.
func (w *WorkflowInstanceModel) MarkCompleted() {
	now := time.Now()
	w.CompletedAt = &now
	w.Status = "completed"
}

// MarkFailed sets the completed timestamp, status, and error.
func (w *WorkflowInstanceModel) MarkFailed(err string) {
	now := time.Now()
	w.CompletedAt = &now
	w.Status = "failed"
	w.ErrorMessage = err
}

// MarkCancelled sets the completed timestamp and status.
func (w *WorkflowInstanceModel) MarkCancelled() {
	now := time.Now()
	w.CompletedAt = &now
	w.Status = "cancelled"
}

// MarkInterrupted flags a running instance whose scheduler lock expired
// without a terminal transition, e.g. the owning process crashed mid-node.
func (w *WorkflowInstanceModel) MarkInterrupted() {
	w.Status = "interrupted"
}

// Duration returns the instance's run duration if it has completed.
func (w *WorkflowInstanceModel) Duration() *time.Duration {
	if w.StartedAt == nil || w.CompletedAt == nil {
		return nil
	}
	d := w.CompletedAt.Sub(*w.StartedAt)
	return &d
}
