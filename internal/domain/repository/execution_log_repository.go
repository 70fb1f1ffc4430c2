package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
)

// ExecutionLogRepository defines persistence for the per-instance
// execution timeline.
type ExecutionLogRepository interface {
	Create(ctx context.Context, log *models.ExecutionLogModel) error

	// CreateMany inserts a batch of log entries in one round trip.
	CreateMany(ctx context.Context, logs []*models.ExecutionLogModel) error

	FindByWorkflowInstance(ctx context.Context, workflowInstanceID uuid.UUID, limit, offset int) ([]*models.ExecutionLogModel, error)

	FindByNodeInstance(ctx context.Context, nodeInstanceID uuid.UUID) ([]*models.ExecutionLogModel, error)

	// FindByLevel retrieves log entries at a given level, newest first.
	FindByLevel(ctx context.Context, level string, limit, offset int) ([]*models.ExecutionLogModel, error)

	// DeleteOlderThan removes log rows older than cutoff, reused by the
	// schedule service's retention tick.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
