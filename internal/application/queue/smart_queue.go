package queue

import (
	"context"
	"time"

	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/pkg/executor"
	"github.com/smilemakc/mbflow/pkg/models"
)

// SmartQueue bundles a Store and its WorkerPool behind the single-object
// API the adapter façade (C12) and callers outside this package use —
// they should never need to reach for Store and WorkerPool separately.
type SmartQueue struct {
	store *Store
	pool  *WorkerPool
	limit *TokenBucket
}

// SmartQueueConfig configures a SmartQueue.
type SmartQueueConfig struct {
	QueueName     string
	Concurrency   int
	LeaseDuration time.Duration
	PollInterval  time.Duration
	Backoff       models.BackoffPolicy
	// RateLimit, if set, caps dispatch throughput for this queue.
	RateLimit *TokenBucket
}

// NewSmartQueue wires a Store and WorkerPool for a single named queue.
func NewSmartQueue(store *Store, executors executor.Manager, cfg SmartQueueConfig, log *logger.Logger) *SmartQueue {
	pool := NewWorkerPool(store, executors, PoolConfig{
		QueueName:     cfg.QueueName,
		Concurrency:   cfg.Concurrency,
		LeaseDuration: cfg.LeaseDuration,
		PollInterval:  cfg.PollInterval,
		Backoff:       cfg.Backoff,
	}, log)
	return &SmartQueue{store: store, pool: pool, limit: cfg.RateLimit}
}

// Start begins dispatching jobs.
func (q *SmartQueue) Start(ctx context.Context) {
	q.pool.Start(ctx)
}

// Stop gracefully shuts the pool down.
func (q *SmartQueue) Stop(timeout time.Duration) {
	q.pool.Stop(timeout)
}

// Pause stops the pool from claiming new jobs.
func (q *SmartQueue) Pause() {
	q.pool.Pause()
}

// Resume lets the pool claim jobs again.
func (q *SmartQueue) Resume() {
	q.pool.Resume()
}

// Add enqueues a job, honoring the queue's rate limit if one is configured.
func (q *SmartQueue) Add(ctx context.Context, job *models.QueueJob) (*models.QueueJob, error) {
	if q.limit != nil {
		if err := q.limit.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return q.store.Enqueue(ctx, job)
}

// Cancel removes a waiting or delayed job by id.
func (q *SmartQueue) Cancel(ctx context.Context, id string) (bool, error) {
	return q.store.Cancel(ctx, id)
}

// PauseGroup pauses every job sharing groupID.
func (q *SmartQueue) PauseGroup(ctx context.Context, groupID string) (int64, error) {
	return q.store.PauseGroup(ctx, q.pool.cfg.QueueName, groupID)
}

// ResumeGroup resumes every paused job sharing groupID.
func (q *SmartQueue) ResumeGroup(ctx context.Context, groupID string) (int64, error) {
	return q.store.ResumeGroup(ctx, q.pool.cfg.QueueName, groupID)
}

// Stats reports current queue depth and throughput.
func (q *SmartQueue) Stats(ctx context.Context) (*models.QueueStats, error) {
	return q.store.Stats(ctx, q.pool.cfg.QueueName)
}

// State reports the worker pool's operational state.
func (q *SmartQueue) State() State {
	return q.pool.State()
}
