package models

import "time"

// WorkflowInstanceStatus is the lifecycle state of one durable workflow run.
type WorkflowInstanceStatus string

const (
	WorkflowInstanceStatusPending     WorkflowInstanceStatus = "pending"
	WorkflowInstanceStatusRunning     WorkflowInstanceStatus = "running"
	WorkflowInstanceStatusPaused      WorkflowInstanceStatus = "paused"
	WorkflowInstanceStatusCompleted   WorkflowInstanceStatus = "completed"
	WorkflowInstanceStatusFailed      WorkflowInstanceStatus = "failed"
	WorkflowInstanceStatusCancelled   WorkflowInstanceStatus = "cancelled"
	WorkflowInstanceStatusInterrupted WorkflowInstanceStatus = "interrupted"
)

// IsTerminal reports whether the instance can never transition again.
func (s WorkflowInstanceStatus) IsTerminal() bool {
	return s == WorkflowInstanceStatusCompleted ||
		s == WorkflowInstanceStatusFailed ||
		s == WorkflowInstanceStatusCancelled
}

// workflowInstanceTransitions enumerates the legal status graph. A terminal
// status has no outgoing edges; interrupted may only resume to running.
var workflowInstanceTransitions = map[WorkflowInstanceStatus]map[WorkflowInstanceStatus]bool{
	WorkflowInstanceStatusPending: {
		WorkflowInstanceStatusRunning:   true,
		WorkflowInstanceStatusCancelled: true,
	},
	WorkflowInstanceStatusRunning: {
		WorkflowInstanceStatusPaused:      true,
		WorkflowInstanceStatusCompleted:   true,
		WorkflowInstanceStatusFailed:      true,
		WorkflowInstanceStatusCancelled:   true,
		WorkflowInstanceStatusInterrupted: true,
	},
	WorkflowInstanceStatusPaused: {
		WorkflowInstanceStatusRunning:   true,
		WorkflowInstanceStatusCancelled: true,
	},
	WorkflowInstanceStatusInterrupted: {
		WorkflowInstanceStatusRunning:   true,
		WorkflowInstanceStatusCancelled: true,
	},
}

// CanTransition reports whether moving from `from` to `to` is legal.
// Terminal statuses never transition; this is the single source of truth
// for the "monotonic with respect to time" invariant in spec.md §3.
func CanTransition(from, to WorkflowInstanceStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if from == to {
		return true
	}
	allowed, ok := workflowInstanceTransitions[from]
	return ok && allowed[to]
}

// WorkflowInstance is one durable execution of a WorkflowDefinition.
type WorkflowInstance struct {
	ID            string                 `json:"id"`
	DefinitionID  string                 `json:"definition_id"`
	Version       int                    `json:"version"`
	Status        WorkflowInstanceStatus `json:"status"`
	CurrentNodeID string                 `json:"current_node_id,omitempty"`
	Input         map[string]interface{} `json:"input,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Output        map[string]interface{} `json:"output,omitempty"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	RetryCount    int                    `json:"retry_count"`
	MaxRetries    int                    `json:"max_retries"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// ParallelJoinPolicy controls when a parallel node's children are considered
// to have jointly succeeded. See spec.md §9 Open Question #1; default "all".
type ParallelJoinPolicy string

const (
	JoinPolicyAll        ParallelJoinPolicy = "all"
	JoinPolicyAnySuccess ParallelJoinPolicy = "anySuccess"
)

// ChildFailurePolicy controls whether a loop keeps scheduling children after
// one fails. See spec.md §9 Open Question #2; default "continue".
type ChildFailurePolicy string

const (
	ChildFailureAbort    ChildFailurePolicy = "abort"
	ChildFailureContinue ChildFailurePolicy = "continue"
)

// NodeInstanceStatus is the lifecycle state of one node's execution within
// a workflow instance.
type NodeInstanceStatus string

const (
	NodeInstanceStatusPending     NodeInstanceStatus = "pending"
	NodeInstanceStatusRunning     NodeInstanceStatus = "running"
	NodeInstanceStatusCompleted   NodeInstanceStatus = "completed"
	NodeInstanceStatusFailed      NodeInstanceStatus = "failed"
	NodeInstanceStatusFailedRetry NodeInstanceStatus = "failed_retry"
	NodeInstanceStatusCancelled   NodeInstanceStatus = "cancelled"
	NodeInstanceStatusSkipped     NodeInstanceStatus = "skipped"
)

// IsTerminal reports whether the node instance's state machine has settled.
func (s NodeInstanceStatus) IsTerminal() bool {
	switch s {
	case NodeInstanceStatusCompleted, NodeInstanceStatusFailed,
		NodeInstanceStatusCancelled, NodeInstanceStatusSkipped:
		return true
	default:
		return false
	}
}

// LoopPhase is the resumable phase of a loop node's two-phase execution.
type LoopPhase string

const (
	LoopPhaseCreating  LoopPhase = "creating"
	LoopPhaseExecuting LoopPhase = "executing"
	LoopPhaseCompleted LoopPhase = "completed"
)

// LoopProgress tracks fan-out bookkeeping for a loop node; see spec.md §3/§4.9.
type LoopProgress struct {
	Status         LoopPhase `json:"status"`
	TotalCount     int       `json:"total_count"`
	CompletedCount int       `json:"completed_count"`
	FailedCount    int       `json:"failed_count"`
}

// Done reports whether every fanned-out child has reached a terminal state.
func (lp *LoopProgress) Done() bool {
	return lp.CompletedCount+lp.FailedCount >= lp.TotalCount
}

// NodeInstance is the runtime record of one node's execution within a
// workflow instance. A nil/empty ParentNodeID marks a top-level node;
// otherwise it is a sub-node fanned out by a parallel or loop node.
type NodeInstance struct {
	ID                 string                 `json:"id"`
	WorkflowInstanceID string                 `json:"workflow_instance_id"`
	ParentNodeID       string                 `json:"parent_node_id,omitempty"`
	NodeID             string                 `json:"node_id"`
	NodeName           string                 `json:"node_name"`
	NodeType           string                 `json:"node_type"`
	Status             NodeInstanceStatus     `json:"status"`
	ChildIndex         *int                   `json:"child_index,omitempty"`
	LoopProgress       *LoopProgress          `json:"loop_progress,omitempty"`
	InputData          map[string]interface{} `json:"input_data,omitempty"`
	OutputData         map[string]interface{} `json:"output_data,omitempty"`
	RetryCount         int                    `json:"retry_count"`
	MaxRetries         int                    `json:"max_retries"`
	StartedAt          *time.Time             `json:"started_at,omitempty"`
	CompletedAt        *time.Time             `json:"completed_at,omitempty"`
	ErrorMessage       string                 `json:"error_message,omitempty"`
	ErrorDetails       map[string]interface{} `json:"error_details,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// IsTopLevel reports whether this node instance has no parent, i.e. it is a
// direct child of the workflow rather than fanned out by parallel/loop.
func (n *NodeInstance) IsTopLevel() bool {
	return n.ParentNodeID == ""
}
