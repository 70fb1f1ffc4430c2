package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NodeInstanceModel is the runtime record of one node's execution within a
// WorkflowInstanceModel. ParentNodeID fans a parallel/loop node out into
// sub-nodes; ChildIndex orders them for deterministic re-attach on resume.
// LoopStatus/LoopTotal/LoopCompleted/LoopFailed persist the two-phase
// creating/executing bookkeeping for loop nodes so a crash between
// creating sub-nodes and executing them is resumable without re-deriving
// the fan-out from scratch.
type NodeInstanceModel struct {
	bun.BaseModel `bun:"table:node_instances,alias:ni"`

	ID                 uuid.UUID  `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	WorkflowInstanceID uuid.UUID  `bun:"workflow_instance_id,notnull,type:uuid" json:"workflow_instance_id" validate:"required"`
	ParentNodeID       *uuid.UUID `bun:"parent_node_id,type:uuid" json:"parent_node_id,omitempty"`
	NodeID             string     `bun:"node_id,notnull" json:"node_id" validate:"required"`
	NodeName           string     `bun:"node_name" json:"node_name,omitempty"`
	NodeType           string     `bun:"node_type,notnull" json:"node_type" validate:"required,oneof=simple sequential parallel loop"`
	Status             string     `bun:"status,notnull,default:'pending'" json:"status" validate:"required,oneof=pending running completed failed failed_retry cancelled skipped"`
	ChildIndex         *int       `bun:"child_index" json:"child_index,omitempty"`
	LoopStatus         string     `bun:"loop_status" json:"loop_status,omitempty"`
	LoopTotal          int        `bun:"loop_total,notnull,default:0" json:"loop_total"`
	LoopCompleted      int        `bun:"loop_completed,notnull,default:0" json:"loop_completed"`
	LoopFailed         int        `bun:"loop_failed,notnull,default:0" json:"loop_failed"`
	InputData          JSONBMap   `bun:"input_data,type:jsonb,default:'{}'" json:"input_data,omitempty"`
	OutputData         JSONBMap   `bun:"output_data,type:jsonb" json:"output_data,omitempty"`
	QueueJobID         *uuid.UUID `bun:"queue_job_id,type:uuid" json:"queue_job_id,omitempty"`
	RetryCount         int        `bun:"retry_count,notnull,default:0" json:"retry_count" validate:"gte=0"`
	MaxRetries         int        `bun:"max_retries,notnull,default:0" json:"max_retries" validate:"gte=0"`
	StartedAt          *time.Time `bun:"started_at" json:"started_at,omitempty"`
	CompletedAt        *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage       string     `bun:"error_message" json:"error_message,omitempty"`
	ErrorDetails       JSONBMap   `bun:"error_details,type:jsonb" json:"error_details,omitempty"`
	CreatedAt          time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt          time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	// Relationships
	WorkflowInstance *WorkflowInstanceModel `bun:"rel:belongs-to,join:workflow_instance_id=id" json:"-"`
	Children         []*NodeInstanceModel   `bun:"rel:has-many,join:id=parent_node_id" json:"children,omitempty"`
}

// TableName returns the table name for NodeInstanceModel.
func (NodeInstanceModel) TableName() string {
	return "node_instances"
}

// BeforeInsert hook to set timestamps.
func (n *NodeInstanceModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.InputData == nil {
		n.InputData = make(JSONBMap)
	}
	return nil
}

// BeforeUpdate hook to update timestamp.
func (n *NodeInstanceModel) BeforeUpdate(ctx interface{}) error {
	n.UpdatedAt = time.Now()
	return nil
}

// IsTopLevel reports whether this node has no parent fan-out node.
func (n *NodeInstanceModel) IsTopLevel() bool {
	return n.ParentNodeID == nil
}

// IsTerminal reports whether the node instance has settled.
func (n *NodeInstanceModel) IsTerminal() bool {
	switch n.Status {
	case "completed", "failed", "cancelled", "skipped":
		return true
	default:
		return false
	}
}

// LoopDone reports whether every fanned-out child of a loop node has
// reached a terminal state.
func (n *NodeInstanceModel) LoopDone() bool {
	return n.LoopCompleted+n.LoopFailed >= n.LoopTotal
}

// MarkStarted sets the started timestamp and status.
func (n *NodeInstanceModel) MarkStarted() {
	now := time.Now()
	n.StartedAt = &now
	n.Status = "running"
}

// MarkCompleted sets the completed timestamp and status.
func (n *NodeInstanceModel) MarkCompleted() {
	now := time.Now()
	n.CompletedAt = &now
	n.Status = "completed"
}

// MarkFailed sets the completed timestamp, status, and error.
func (n *NodeInstanceModel) MarkFailed(err string) {
	now := time.Now()
	n.CompletedAt = &now
	n.Status = "failed"
	n.ErrorMessage = err
}

// MarkFailedRetry increments retry count and marks the node for retry.
func (n *NodeInstanceModel) MarkFailedRetry(err string) {
	n.RetryCount++
	n.Status = "failed_retry"
	n.ErrorMessage = err
}

// MarkSkipped sets the status to skipped.
func (n *NodeInstanceModel) MarkSkipped() {
	n.Status = "skipped"
}

// Duration returns the node's run duration if completed.
func (n *NodeInstanceModel) Duration() *time.Duration {
	if n.StartedAt == nil || n.CompletedAt == nil {
		return nil
	}
	d := n.CompletedAt.Sub(*n.StartedAt)
	return &d
}
