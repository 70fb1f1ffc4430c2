// Package sandbox implements the optional out-of-process code sandbox
// (C5): a small pool of worker subprocesses speaking a framed
// JSON-over-stdio protocol, used by the "sandbox" executor to run
// untrusted node code outside the main process.
package sandbox

import "encoding/json"

// FrameType identifies a single line of the stdio protocol.
type FrameType string

const (
	// FrameReady is emitted once by a freshly spawned subprocess before it
	// accepts its first FrameExecute.
	FrameReady FrameType = "ready"
	// FrameExecute is sent to the subprocess to run one job.
	FrameExecute FrameType = "execute"
	// FrameResult carries a job's successful output.
	FrameResult FrameType = "result"
	// FrameError carries a job failure.
	FrameError FrameType = "error"
	// FrameProgress is an optional, non-terminal status update a
	// long-running job may emit before its final FrameResult/FrameError.
	FrameProgress FrameType = "progress"
)

// Frame is one newline-delimited JSON object exchanged over a sandbox
// subprocess's stdin/stdout.
type Frame struct {
	Type     FrameType       `json:"type"`
	ID       string          `json:"id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error,omitempty"`
	Progress float64         `json:"progress,omitempty"`
}

// ExecutePayload is the Payload of a FrameExecute frame.
type ExecutePayload struct {
	Config map[string]any `json:"config"`
	Input  any            `json:"input"`
}

// ResultPayload is the Payload of a FrameResult frame.
type ResultPayload struct {
	Output any `json:"output"`
}
