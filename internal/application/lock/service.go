// Package lock implements the distributed lock service (C1): an
// owner/TTL mutex backed by a single atomic upsert per key, shared by the
// queue worker pool and the workflow scheduler as their mutual-exclusion
// primitive.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/smilemakc/mbflow/internal/domain/repository"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	storagemodels "github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/smilemakc/mbflow/pkg/models"
)

// DefaultTTL is used when callers don't specify one explicitly.
const DefaultTTL = 30 * time.Second

// Service implements distributed mutual exclusion over LockRepository.
type Service struct {
	repo   repository.LockRepository
	logger *logger.Logger
}

// NewService creates a new lock Service.
func NewService(repo repository.LockRepository, log *logger.Logger) *Service {
	return &Service{repo: repo, logger: log}
}

// Acquire attempts to claim key for owner until now+ttl. It never returns
// an error for plain contention — callers check the returned bool.
func (s *Service) Acquire(ctx context.Context, key, owner string, lockType models.LockType, ttl time.Duration, data map[string]interface{}) (*models.Lock, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	expiresAt := time.Now().Add(ttl)
	jsonData := storagemodels.JSONBMap(data)

	row, ok, err := s.repo.Acquire(ctx, key, owner, string(lockType), expiresAt, jsonData)
	if err != nil {
		return nil, false, &models.StorageError{Op: "lock.Acquire", Err: err}
	}
	if !ok {
		s.logger.Debug("lock contended", "key", key, "owner", owner)
		return nil, false, nil
	}
	return toDomain(row), true, nil
}

// AcquireWithRetry polls Acquire until it succeeds, ctx is cancelled, or
// maxWait elapses. Used by callers (e.g. CLI tools) who want to block
// rather than fail fast on contention; the scheduler and worker pool do
// not use this — they always treat contention as "try another target".
func (s *Service) AcquireWithRetry(ctx context.Context, key, owner string, lockType models.LockType, ttl, maxWait, pollInterval time.Duration) (*models.Lock, error) {
	deadline := time.Now().Add(maxWait)
	for {
		lock, ok, err := s.Acquire(ctx, key, owner, lockType, ttl, nil)
		if err != nil {
			return nil, err
		}
		if ok {
			return lock, nil
		}
		if time.Now().After(deadline) {
			return nil, &models.LockContentionError{Key: key, HeldBy: "unknown", ExpiresAt: deadline}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release gives up ownership of key, if owner still holds it.
func (s *Service) Release(ctx context.Context, key, owner string) error {
	ok, err := s.repo.Release(ctx, key, owner)
	if err != nil {
		return &models.StorageError{Op: "lock.Release", Err: err}
	}
	if !ok {
		return &models.LockContentionError{Key: key, HeldBy: "not-owner-or-expired"}
	}
	return nil
}

// Renew extends the TTL of a lock the caller believes it still holds.
func (s *Service) Renew(ctx context.Context, key, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ok, err := s.repo.Renew(ctx, key, owner, time.Now().Add(ttl))
	if err != nil {
		return &models.StorageError{Op: "lock.Renew", Err: err}
	}
	if !ok {
		return &models.LockContentionError{Key: key, HeldBy: "not-owner-or-expired"}
	}
	return nil
}

// FindByOwner lists every lock currently recorded for owner.
func (s *Service) FindByOwner(ctx context.Context, owner string) ([]*models.Lock, error) {
	rows, err := s.repo.FindByOwner(ctx, owner)
	if err != nil {
		return nil, &models.StorageError{Op: "lock.FindByOwner", Err: err}
	}
	return toDomainSlice(rows), nil
}

// FindByLockType lists every lock of the given type.
func (s *Service) FindByLockType(ctx context.Context, lockType models.LockType) ([]*models.Lock, error) {
	rows, err := s.repo.FindByLockType(ctx, string(lockType))
	if err != nil {
		return nil, &models.StorageError{Op: "lock.FindByLockType", Err: err}
	}
	return toDomainSlice(rows), nil
}

// CleanupExpired deletes every expired lock row and returns how many were removed.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.CleanupExpired(ctx, time.Now())
	if err != nil {
		return 0, &models.StorageError{Op: "lock.CleanupExpired", Err: err}
	}
	return n, nil
}

// Statistics summarizes the lock table for diagnostics/health checks.
func (s *Service) Statistics(ctx context.Context) (*models.LockStatistics, error) {
	stats, err := s.repo.Statistics(ctx)
	if err != nil {
		return nil, &models.StorageError{Op: "lock.Statistics", Err: err}
	}
	return stats, nil
}

// WithLock acquires key, runs fn, then releases key regardless of fn's
// outcome. Returns (false, nil) without running fn if the lock is
// contended — the canonical pattern used by scheduler ticks and schedule
// ticks alike.
func (s *Service) WithLock(ctx context.Context, key, owner string, lockType models.LockType, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	_, ok, err := s.Acquire(ctx, key, owner, lockType, ttl, nil)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() {
		if relErr := s.Release(ctx, key, owner); relErr != nil {
			s.logger.Warn("failed to release lock", "key", key, "owner", owner, "error", relErr)
		}
	}()
	if err := fn(ctx); err != nil {
		return true, fmt.Errorf("locked operation for %s failed: %w", key, err)
	}
	return true, nil
}

func toDomain(row *storagemodels.LockModel) *models.Lock {
	if row == nil {
		return nil
	}
	return &models.Lock{
		Key:       row.LockKey,
		Owner:     row.Owner,
		Type:      models.LockType(row.LockType),
		ExpiresAt: row.ExpiresAt,
		Data:      map[string]interface{}(row.LockData),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func toDomainSlice(rows []*storagemodels.LockModel) []*models.Lock {
	out := make([]*models.Lock, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomain(row))
	}
	return out
}
