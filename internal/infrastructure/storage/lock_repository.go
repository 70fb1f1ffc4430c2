package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smilemakc/mbflow/internal/domain/repository"
	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	pkgmodels "github.com/smilemakc/mbflow/pkg/models"
	"github.com/uptrace/bun"
)

// Ensure LockRepository implements the interface
var _ repository.LockRepository = (*LockRepository)(nil)

// LockRepository implements repository.LockRepository using Bun ORM.
type LockRepository struct {
	db *bun.DB
}

// NewLockRepository creates a new LockRepository.
func NewLockRepository(db *bun.DB) *LockRepository {
	return &LockRepository{db: db}
}

// Acquire claims lockKey for owner in a single upsert statement: insert if
// absent, or overwrite if the existing row has already expired. Any other
// conflict (another owner still holds an unexpired lock) leaves the row
// untouched and the upsert affects zero rows, which is how contention is
// detected without a prior read.
func (r *LockRepository) Acquire(ctx context.Context, lockKey, owner string, lockType string, expiresAt time.Time, data models.JSONBMap) (*models.LockModel, bool, error) {
	if data == nil {
		data = make(models.JSONBMap)
	}
	lock := &models.LockModel{
		LockKey:   lockKey,
		Owner:     owner,
		LockType:  lockType,
		LockData:  data,
		ExpiresAt: expiresAt,
	}

	res, err := r.db.NewInsert().
		Model(lock).
		On("CONFLICT (lock_key) DO UPDATE").
		Set("owner = EXCLUDED.owner").
		Set("lock_type = EXCLUDED.lock_type").
		Set("lock_data = EXCLUDED.lock_data").
		Set("expires_at = EXCLUDED.expires_at").
		Set("updated_at = EXCLUDED.updated_at").
		Where("locks.expires_at < ?", time.Now()).
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", lockKey, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read acquire result for %s: %w", lockKey, err)
	}
	if affected == 0 {
		return nil, false, nil
	}
	return lock, true, nil
}

// Release deletes the lock row if and only if owner still holds it.
func (r *LockRepository) Release(ctx context.Context, lockKey, owner string) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*models.LockModel)(nil)).
		Where("lock_key = ? AND owner = ?", lockKey, owner).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", lockKey, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read release result for %s: %w", lockKey, err)
	}
	return affected > 0, nil
}

// Renew extends expiresAt if and only if owner still holds the lock.
func (r *LockRepository) Renew(ctx context.Context, lockKey, owner string, expiresAt time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*models.LockModel)(nil)).
		Set("expires_at = ?", expiresAt).
		Set("updated_at = ?", time.Now()).
		Where("lock_key = ? AND owner = ? AND expires_at >= ?", lockKey, owner, time.Now()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to renew lock %s: %w", lockKey, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read renew result for %s: %w", lockKey, err)
	}
	return affected > 0, nil
}

// FindByKey retrieves a lock row regardless of expiry.
func (r *LockRepository) FindByKey(ctx context.Context, lockKey string) (*models.LockModel, error) {
	lock := &models.LockModel{}
	err := r.db.NewSelect().
		Model(lock).
		Where("lock_key = ?", lockKey).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lock not found: %s", lockKey)
		}
		return nil, fmt.Errorf("failed to find lock %s: %w", lockKey, err)
	}
	return lock, nil
}

// FindByOwner retrieves every lock currently recorded for owner.
func (r *LockRepository) FindByOwner(ctx context.Context, owner string) ([]*models.LockModel, error) {
	var locks []*models.LockModel
	err := r.db.NewSelect().
		Model(&locks).
		Where("owner = ?", owner).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find locks for owner %s: %w", owner, err)
	}
	return locks, nil
}

// FindByLockType retrieves every lock of the given type.
func (r *LockRepository) FindByLockType(ctx context.Context, lockType string) ([]*models.LockModel, error) {
	var locks []*models.LockModel
	err := r.db.NewSelect().
		Model(&locks).
		Where("lock_type = ?", lockType).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find locks of type %s: %w", lockType, err)
	}
	return locks, nil
}

// CleanupExpired deletes every lock row whose expiresAt has passed.
func (r *LockRepository) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.LockModel)(nil)).
		Where("expires_at < ?", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired locks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read cleanup result: %w", err)
	}
	return affected, nil
}

// Statistics summarizes the lock table for diagnostics.
func (r *LockRepository) Statistics(ctx context.Context) (*pkgmodels.LockStatistics, error) {
	total, err := r.db.NewSelect().Model((*models.LockModel)(nil)).Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count locks: %w", err)
	}
	expired, err := r.db.NewSelect().
		Model((*models.LockModel)(nil)).
		Where("expires_at < ?", time.Now()).
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count expired locks: %w", err)
	}

	var rows []struct {
		LockType string `bun:"lock_type"`
		Count    int    `bun:"count"`
	}
	err = r.db.NewSelect().
		Model((*models.LockModel)(nil)).
		ColumnExpr("lock_type").
		ColumnExpr("count(*) AS count").
		Group("lock_type").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to group locks by type: %w", err)
	}
	byType := make(map[string]int, len(rows))
	for _, row := range rows {
		byType[row.LockType] = row.Count
	}

	return &pkgmodels.LockStatistics{
		TotalLocks:   total,
		ExpiredLocks: expired,
		ByType:       byType,
	}, nil
}
