package models

import "time"

// QueueJobStatus is the lifecycle state of a queue job.
type QueueJobStatus string

const (
	QueueJobStatusWaiting   QueueJobStatus = "waiting"
	QueueJobStatusExecuting QueueJobStatus = "executing"
	QueueJobStatusPaused    QueueJobStatus = "paused"
	QueueJobStatusDelayed   QueueJobStatus = "delayed"
	QueueJobStatusFailed    QueueJobStatus = "failed"
)

// QueueJob is a unit of executor work persisted and dispatched by workers.
type QueueJob struct {
	ID            string                 `json:"id"`
	QueueName     string                 `json:"queue_name"`
	GroupID       string                 `json:"group_id,omitempty"`
	JobName       string                 `json:"job_name"`
	ExecutorName  string                 `json:"executor_name"`
	Payload       map[string]interface{} `json:"payload"`
	Status        QueueJobStatus         `json:"status"`
	Priority      int                    `json:"priority"`
	Attempts      int                    `json:"attempts"`
	MaxAttempts   int                    `json:"max_attempts"`
	DelayUntil    *time.Time             `json:"delay_until,omitempty"`
	LockedBy      string                 `json:"locked_by,omitempty"`
	LockedUntil   *time.Time             `json:"locked_until,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	ErrorCode     string                 `json:"error_code,omitempty"`
	ErrorStack    string                 `json:"error_stack,omitempty"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// IsLocked reports whether the job is currently claimed by a worker.
func (j *QueueJob) IsLocked(now time.Time) bool {
	return j.LockedUntil != nil && j.LockedUntil.After(now)
}

// IsDue reports whether a delayed job has become eligible for dispatch.
func (j *QueueJob) IsDue(now time.Time) bool {
	return j.DelayUntil == nil || !j.DelayUntil.After(now)
}

// QueueCursor is the (priority, createdAt, id) triple used for strict,
// reentrant pagination over waiting jobs.
type QueueCursor struct {
	Priority  int
	CreatedAt time.Time
	ID        string
}

// QueueSuccess is the archival record of a job that completed successfully.
// Per spec, metadata is intentionally dropped on the success-move.
type QueueSuccess struct {
	ID            string                 `json:"id"`
	QueueName     string                 `json:"queue_name"`
	GroupID       string                 `json:"group_id,omitempty"`
	JobName       string                 `json:"job_name"`
	ExecutorName  string                 `json:"executor_name"`
	Payload       map[string]interface{} `json:"payload"`
	Result        map[string]interface{} `json:"result,omitempty"`
	Priority      int                    `json:"priority"`
	Attempts      int                    `json:"attempts"`
	ExecutionTime time.Duration          `json:"execution_time"`
	StartedAt     time.Time              `json:"started_at"`
	CompletedAt   time.Time              `json:"completed_at"`
	CreatedAt     time.Time              `json:"created_at"`
}

// QueueFailure is the archival record of a job that was finally rejected.
type QueueFailure struct {
	ID           string                 `json:"id"`
	QueueName    string                 `json:"queue_name"`
	GroupID      string                 `json:"group_id,omitempty"`
	JobName      string                 `json:"job_name"`
	ExecutorName string                 `json:"executor_name"`
	Payload      map[string]interface{} `json:"payload"`
	Attempts     int                    `json:"attempts"`
	ErrorMessage string                 `json:"error_message"`
	ErrorCode    string                 `json:"error_code,omitempty"`
	ErrorStack   string                 `json:"error_stack,omitempty"`
	FailedAt     time.Time              `json:"failed_at"`
	CreatedAt    time.Time              `json:"created_at"`
}

// JobOutcome reports whether a previously-submitted job has settled, and
// if so, how — used by callers that enqueue a job on one pass and poll for
// its result on a later one instead of blocking on completion.
type JobOutcome struct {
	Done    bool
	Success bool
	Result  map[string]interface{}
	Error   string
}

// QueueStats summarizes queue health for a SmartQueue/adapter.
type QueueStats struct {
	Pending           int           `json:"pending"`
	Running           int           `json:"running"`
	Completed         int           `json:"completed"`
	Failed            int           `json:"failed"`
	AvgExecutionTime  time.Duration `json:"avg_execution_time"`
	ThroughputPerMin  float64       `json:"throughput_per_min"`
}

// BackoffStrategy determines how the delay between retries grows.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// BackoffPolicy configures retry delay growth for queue jobs.
type BackoffPolicy struct {
	Strategy    BackoffStrategy `json:"strategy"`
	BaseDelayMs int             `json:"base_delay_ms"`
	MaxDelayMs  int             `json:"max_delay_ms"`
}

// DefaultBackoffPolicy mirrors the engine's DefaultRetryPolicy growth curve.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Strategy:    BackoffExponential,
		BaseDelayMs: 1000,
		MaxDelayMs:  30000,
	}
}

// Delay computes the wait before attempt (1-indexed) using the same
// constant/linear/exponential curve as internal/application/engine's
// node-level RetryPolicy, so queue jobs and workflow nodes back off
// identically.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	base := time.Duration(p.BaseDelayMs) * time.Millisecond
	maxDelay := time.Duration(p.MaxDelayMs) * time.Millisecond

	var delay time.Duration
	switch p.Strategy {
	case BackoffFixed:
		delay = base
	case BackoffLinear:
		delay = base * time.Duration(attempt)
	case BackoffExponential:
		multiplier := 1 << uint(attempt-1)
		delay = base * time.Duration(multiplier)
	default:
		delay = base
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
