package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/smilemakc/mbflow/internal/application/queue"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/pkg/models"
)

// Config configures a Host.
type Config struct {
	// Command and Args launch one sandbox subprocess.
	Command string
	Args    []string
	// MaxSandboxes bounds how many subprocesses run concurrently.
	MaxSandboxes int
	// MaxJobsPerSandbox recycles a subprocess after it has handled this
	// many jobs, bounding the blast radius of a slow memory leak in
	// whatever interpreter the subprocess embeds.
	MaxJobsPerSandbox int
	// JobTimeout bounds a single execute call.
	JobTimeout time.Duration
}

// Host runs untrusted node code in a pool of subprocesses and implements
// pkg/executor.Executor so it can be registered under a node type (e.g.
// "sandbox") the same way any other built-in executor is.
type Host struct {
	cfg    Config
	pool   *queue.Pool[*process]
	logger *logger.Logger
}

// NewHost creates a sandbox host. Subprocesses are spawned lazily, up to
// cfg.MaxSandboxes, the first time Execute needs one.
func NewHost(cfg Config, log *logger.Logger) *Host {
	if cfg.MaxSandboxes <= 0 {
		cfg.MaxSandboxes = 4
	}
	if cfg.MaxJobsPerSandbox <= 0 {
		cfg.MaxJobsPerSandbox = 100
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}

	h := &Host{cfg: cfg, logger: log}
	h.pool = queue.NewPool(
		cfg.MaxSandboxes,
		func(ctx context.Context) (*process, error) {
			return newProcess(ctx, cfg.Command, cfg.Args, log)
		},
		func(p *process) bool { return p.jobsHandled() < cfg.MaxJobsPerSandbox },
		func(p *process) { p.stop(5 * time.Second) },
	)
	return h
}

// Execute implements pkg/executor.Executor, running config/input through
// one pooled subprocess.
func (h *Host) Execute(ctx context.Context, config map[string]any, input any) (any, error) {
	execCtx, cancel := context.WithTimeout(ctx, h.cfg.JobTimeout)
	defer cancel()

	p, err := h.pool.Acquire(execCtx)
	if err != nil {
		return nil, &models.TimeoutErr{Op: "sandbox.Acquire", Deadline: h.cfg.JobTimeout}
	}

	result, runErr := p.run(execCtx, config, input, nil)
	if runErr != nil {
		h.pool.Destroy(p)
		return nil, &models.ExecutorRunError{ExecutorName: "sandbox", Err: runErr, Retryable: true}
	}

	if p.jobsHandled() >= h.cfg.MaxJobsPerSandbox {
		h.pool.Destroy(p)
	} else {
		h.pool.Release(p)
	}
	return result, nil
}

// Validate implements pkg/executor.Executor. The sandbox accepts any
// config shape; it is the subprocess's job to validate its own script.
func (h *Host) Validate(config map[string]any) error {
	if h.cfg.Command == "" {
		return fmt.Errorf("sandbox host has no command configured")
	}
	return nil
}

// Close shuts every pooled subprocess down.
func (h *Host) Close() {
	h.pool.Close()
}
