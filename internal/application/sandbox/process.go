package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
)

// process wraps one sandbox subprocess: a long-lived worker speaking the
// framed JSON protocol over stdin/stdout. Modeled on the teacher's
// subprocess-lifecycle idiom (cmd, Start, logged Stop) seen in the
// embedded-daemon manager pattern elsewhere in the pack, generalized from
// a single long-running daemon to a per-job request/response worker.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	logger *logger.Logger

	mu       sync.Mutex
	jobCount int
}

func newProcess(ctx context.Context, command string, args []string, log *logger.Logger) (*process, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sandbox start: %w", err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		logger: log,
	}

	frame, err := p.readFrame()
	if err != nil {
		p.kill()
		return nil, fmt.Errorf("sandbox did not become ready: %w", err)
	}
	if frame.Type != FrameReady {
		p.kill()
		return nil, fmt.Errorf("sandbox sent %s before ready", frame.Type)
	}

	return p, nil
}

// run sends one execute frame and blocks for its terminal result/error
// frame, forwarding any intermediate progress frames to onProgress.
func (p *process) run(ctx context.Context, config map[string]any, input any, onProgress func(float64)) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.New().String()
	payload, err := json.Marshal(ExecutePayload{Config: config, Input: input})
	if err != nil {
		return nil, fmt.Errorf("sandbox marshal execute payload: %w", err)
	}

	if err := p.writeFrame(Frame{Type: FrameExecute, ID: id, Payload: payload}); err != nil {
		return nil, fmt.Errorf("sandbox write execute frame: %w", err)
	}

	resultCh := make(chan Frame, 1)
	errCh := make(chan error, 1)
	go func() {
		for {
			frame, err := p.readFrame()
			if err != nil {
				errCh <- err
				return
			}
			if frame.ID != id {
				continue
			}
			switch frame.Type {
			case FrameProgress:
				if onProgress != nil {
					onProgress(frame.Progress)
				}
				continue
			case FrameResult, FrameError:
				resultCh <- frame
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, fmt.Errorf("sandbox protocol error: %w", err)
	case frame := <-resultCh:
		p.jobCount++
		if frame.Type == FrameError {
			return nil, fmt.Errorf("sandbox job failed: %s", frame.Error)
		}
		var result ResultPayload
		if err := json.Unmarshal(frame.Payload, &result); err != nil {
			return nil, fmt.Errorf("sandbox unmarshal result payload: %w", err)
		}
		return result.Output, nil
	}
}

func (p *process) jobsHandled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobCount
}

func (p *process) writeFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = p.stdin.Write(data)
	return err
}

func (p *process) readFrame() (Frame, error) {
	line, err := p.stdout.ReadBytes('\n')
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

func (p *process) kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.stdin.Close()
	_ = p.cmd.Wait()
}

func (p *process) stop(timeout time.Duration) {
	_ = p.stdin.Close()
	done := make(chan struct{})
	go func() {
		_ = p.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("sandbox process did not exit in time, killing")
		p.kill()
	}
}
