package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/pkg/executor"
	"github.com/smilemakc/mbflow/pkg/models"
)

// State is the worker pool's current operational state.
type State int

const (
	StateIdle State = iota
	StateBusy
	StatePaused
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StatePaused:
		return "paused"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// PoolConfig configures a WorkerPool.
type PoolConfig struct {
	QueueName     string
	Concurrency   int
	LeaseDuration time.Duration
	PollInterval  time.Duration
	Backoff       models.BackoffPolicy
}

// WorkerPool polls a single queue and dispatches claimed jobs to the
// executor registered under each job's ExecutorName, bounding concurrency
// with a semaphore channel the way the teacher's dag_executor.go bounds
// wave parallelism.
type WorkerPool struct {
	id        string
	store     *Store
	executors executor.Manager
	cfg       PoolConfig
	logger    *logger.Logger

	stateMu sync.RWMutex
	state   State

	sem     chan struct{}
	stopCh  chan struct{}
	pauseCh chan struct{}
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new WorkerPool.
func NewWorkerPool(store *Store, executors executor.Manager, cfg PoolConfig, log *logger.Logger) *WorkerPool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Backoff.Strategy == "" {
		cfg.Backoff = models.DefaultBackoffPolicy()
	}
	return &WorkerPool{
		id:        fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		store:     store,
		executors: executors,
		cfg:       cfg,
		logger:    log,
		state:     StateIdle,
		sem:       make(chan struct{}, cfg.Concurrency),
		stopCh:    make(chan struct{}),
		pauseCh:   make(chan struct{}),
	}
}

// ID returns the worker pool's unique identifier, used as lock owner.
func (p *WorkerPool) ID() string {
	return p.id
}

// State returns the current operational state.
func (p *WorkerPool) State() State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// Start spawns one goroutine per concurrency slot plus a recovery loop
// that reclaims jobs orphaned by a crashed worker.
func (p *WorkerPool) Start(ctx context.Context) {
	p.stateMu.Lock()
	p.state = StateBusy
	p.stateMu.Unlock()

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.wg.Add(1)
	go p.recoveryLoop(ctx)

	p.logger.Info("worker pool started", "worker_id", p.id, "queue", p.cfg.QueueName, "concurrency", p.cfg.Concurrency)
}

// Stop signals every worker goroutine to exit and waits up to timeout for
// in-flight jobs to finish.
func (p *WorkerPool) Stop(timeout time.Duration) {
	p.stateMu.Lock()
	p.state = StateShuttingDown
	p.stateMu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped", "worker_id", p.id)
	case <-time.After(timeout):
		p.logger.Warn("worker pool shutdown timed out", "worker_id", p.id)
	}
}

// Pause stops the pool from claiming new jobs; in-flight jobs run to
// completion. Cancellation of an in-flight job is advisory only: the
// worker goroutine checks stopCh/pauseCh between jobs, never mid-execute.
func (p *WorkerPool) Pause() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state == StateBusy {
		p.state = StatePaused
		close(p.pauseCh)
		p.pauseCh = make(chan struct{})
	}
}

// Resume lets the pool claim jobs again after Pause.
func (p *WorkerPool) Resume() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state == StatePaused {
		p.state = StateBusy
	}
}

func (p *WorkerPool) worker(ctx context.Context, workerNum int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		if p.State() == StatePaused {
			select {
			case <-time.After(p.cfg.PollInterval):
				continue
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case p.sem <- struct{}{}:
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}

		processed := p.processNext(ctx)
		<-p.sem

		if !processed {
			select {
			case <-time.After(p.cfg.PollInterval):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// processNext claims and runs a single job; returns false if the queue
// had nothing eligible to claim.
func (p *WorkerPool) processNext(ctx context.Context) bool {
	job, err := p.store.LockNext(ctx, p.cfg.QueueName, p.id, p.cfg.LeaseDuration)
	if err != nil {
		p.logger.Error("failed to lock next job", "queue", p.cfg.QueueName, "error", err)
		return false
	}
	if job == nil {
		return false
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.LeaseDuration)
	defer cancel()

	ex, err := p.executors.Get(job.ExecutorName)
	if err != nil {
		p.fail(ctx, job, &models.ExecutorRunError{ExecutorName: job.ExecutorName, Err: err})
		return true
	}

	start := time.Now()
	result, execErr := ex.Execute(jobCtx, map[string]any(job.Payload), job.Payload)
	elapsed := time.Since(start)

	if execErr != nil {
		p.handleFailure(ctx, job, execErr, elapsed)
		return true
	}

	resultMap, _ := result.(map[string]interface{})
	if err := p.store.Complete(ctx, job.ID, resultMap, elapsed); err != nil {
		p.logger.Error("failed to record job success", "job_id", job.ID, "error", err)
	}
	return true
}

func (p *WorkerPool) handleFailure(ctx context.Context, job *models.QueueJob, execErr error, elapsed time.Duration) {
	if job.Attempts < job.MaxAttempts {
		delay := p.cfg.Backoff.Delay(job.Attempts)
		if err := p.store.Requeue(ctx, job.ID, delay, execErr.Error()); err != nil {
			p.logger.Error("failed to requeue job", "job_id", job.ID, "error", err)
		}
		return
	}
	p.fail(ctx, job, execErr)
}

// fail permanently fails a job whose retry budget is spent. It marks the
// job failed in place rather than archiving it, so an operator can inspect
// or retryFailedJob it later; archival to queue_failures is a separate,
// explicit operation (see Store.Fail) not invoked from this path.
func (p *WorkerPool) fail(ctx context.Context, job *models.QueueJob, execErr error) {
	if err := p.store.MarkAsFailed(ctx, job.ID, execErr.Error(), "", ""); err != nil {
		p.logger.Error("failed to mark job failed", "job_id", job.ID, "error", err)
	}
}

func (p *WorkerPool) recoveryLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.LeaseDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			n, err := p.store.ReclaimExpiredLocks(ctx)
			if err != nil {
				p.logger.Error("failed to reclaim expired locks", "queue", p.cfg.QueueName, "error", err)
				continue
			}
			if n > 0 {
				p.logger.Info("reclaimed orphaned jobs", "queue", p.cfg.QueueName, "count", n)
			}
		}
	}
}
