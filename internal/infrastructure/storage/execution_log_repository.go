package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/domain/repository"
	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/uptrace/bun"
)

// Ensure ExecutionLogRepository implements the interface
var _ repository.ExecutionLogRepository = (*ExecutionLogRepository)(nil)

// ExecutionLogRepository implements repository.ExecutionLogRepository
// using Bun ORM.
type ExecutionLogRepository struct {
	db *bun.DB
}

// NewExecutionLogRepository creates a new ExecutionLogRepository.
func NewExecutionLogRepository(db *bun.DB) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db}
}

// Create inserts a new execution log entry.
func (r *ExecutionLogRepository) Create(ctx context.Context, log *models.ExecutionLogModel) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	_, err := dbFrom(ctx, r.db).NewInsert().Model(log).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create execution log: %w", err)
	}
	return nil
}

// CreateMany inserts a batch of log entries in one round trip.
func (r *ExecutionLogRepository) CreateMany(ctx context.Context, logs []*models.ExecutionLogModel) error {
	if len(logs) == 0 {
		return nil
	}
	for _, log := range logs {
		if log.ID == uuid.Nil {
			log.ID = uuid.New()
		}
	}
	_, err := dbFrom(ctx, r.db).NewInsert().Model(&logs).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create execution logs: %w", err)
	}
	return nil
}

// FindByLevel retrieves log entries at a given level, newest first.
func (r *ExecutionLogRepository) FindByLevel(ctx context.Context, level string, limit, offset int) ([]*models.ExecutionLogModel, error) {
	var logs []*models.ExecutionLogModel
	err := r.db.NewSelect().
		Model(&logs).
		Where("level = ?", level).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find execution logs at level %s: %w", level, err)
	}
	return logs, nil
}

// FindByWorkflowInstance retrieves the execution timeline for an instance.
func (r *ExecutionLogRepository) FindByWorkflowInstance(ctx context.Context, workflowInstanceID uuid.UUID, limit, offset int) ([]*models.ExecutionLogModel, error) {
	var logs []*models.ExecutionLogModel
	err := r.db.NewSelect().
		Model(&logs).
		Where("workflow_instance_id = ?", workflowInstanceID).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find execution logs for instance %s: %w", workflowInstanceID, err)
	}
	return logs, nil
}

// FindByNodeInstance retrieves every log entry for a single node instance.
func (r *ExecutionLogRepository) FindByNodeInstance(ctx context.Context, nodeInstanceID uuid.UUID) ([]*models.ExecutionLogModel, error) {
	var logs []*models.ExecutionLogModel
	err := r.db.NewSelect().
		Model(&logs).
		Where("node_instance_id = ?", nodeInstanceID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find execution logs for node instance %s: %w", nodeInstanceID, err)
	}
	return logs, nil
}

// DeleteOlderThan removes log rows older than cutoff.
func (r *ExecutionLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.ExecutionLogModel)(nil)).
		Where("created_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete execution logs older than %s: %w", cutoff, err)
	}
	return res.RowsAffected()
}
