package repository

import (
	"context"
	"time"

	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	pkgmodels "github.com/smilemakc/mbflow/pkg/models"
)

// LockRepository defines persistence for the distributed lock table.
// Acquire must be a single atomic upsert statement — never a read then a
// conditional write — so two concurrent callers racing for the same key
// can never both observe success.
type LockRepository interface {
	// Acquire attempts to claim lockKey for owner until expiresAt. It
	// succeeds if the row does not exist, or exists but is already
	// expired; otherwise it returns (nil, false) without error — lock
	// contention is an expected outcome, not a failure.
	Acquire(ctx context.Context, lockKey, owner string, lockType string, expiresAt time.Time, data models.JSONBMap) (*models.LockModel, bool, error)

	// Release deletes the lock row if and only if owner still holds it.
	// Returns false if the lock was not held by owner (already expired,
	// stolen, or never existed).
	Release(ctx context.Context, lockKey, owner string) (bool, error)

	// Renew extends expiresAt if and only if owner still holds the lock.
	Renew(ctx context.Context, lockKey, owner string, expiresAt time.Time) (bool, error)

	// FindByKey retrieves a lock row regardless of expiry.
	FindByKey(ctx context.Context, lockKey string) (*models.LockModel, error)

	// FindByOwner retrieves every lock currently recorded for owner.
	FindByOwner(ctx context.Context, owner string) ([]*models.LockModel, error)

	// FindByLockType retrieves every lock of the given type.
	FindByLockType(ctx context.Context, lockType string) ([]*models.LockModel, error)

	// CleanupExpired deletes every lock row whose expiresAt has passed and
	// returns the number removed.
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)

	// Statistics summarizes the lock table for diagnostics.
	Statistics(ctx context.Context) (*pkgmodels.LockStatistics, error)
}
