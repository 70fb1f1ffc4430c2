package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/domain/repository"
	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/uptrace/bun"
)

// Ensure WorkflowInstanceRepository implements the interface
var _ repository.WorkflowInstanceRepository = (*WorkflowInstanceRepository)(nil)

// WorkflowInstanceRepository implements repository.WorkflowInstanceRepository
// using Bun ORM.
type WorkflowInstanceRepository struct {
	db *bun.DB
}

// NewWorkflowInstanceRepository creates a new WorkflowInstanceRepository.
func NewWorkflowInstanceRepository(db *bun.DB) *WorkflowInstanceRepository {
	return &WorkflowInstanceRepository{db: db}
}

// Create inserts a new workflow instance.
func (r *WorkflowInstanceRepository) Create(ctx context.Context, instance *models.WorkflowInstanceModel) error {
	if instance.ID == uuid.Nil {
		instance.ID = uuid.New()
	}
	_, err := r.db.NewInsert().Model(instance).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create workflow instance: %w", err)
	}
	return nil
}

// UpdateStatus persists a single status transition. Called after every
// node transition so a crash can never lose more than the in-flight node.
func (r *WorkflowInstanceRepository) UpdateStatus(ctx context.Context, instance *models.WorkflowInstanceModel) error {
	_, err := dbFrom(ctx, r.db).NewUpdate().
		Model(instance).
		Column("status", "current_node_id", "variables", "output", "started_at",
			"completed_at", "retry_count", "error_message", "updated_at").
		Where("id = ?", instance.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update workflow instance %s: %w", instance.ID, err)
	}
	return nil
}

// FindByID retrieves a workflow instance by ID.
func (r *WorkflowInstanceRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.WorkflowInstanceModel, error) {
	instance := &models.WorkflowInstanceModel{}
	err := r.db.NewSelect().Model(instance).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow instance not found: %s", id)
		}
		return nil, fmt.Errorf("failed to find workflow instance %s: %w", id, err)
	}
	return instance, nil
}

// FindByIDWithNodes retrieves a workflow instance with all its node
// instances eagerly loaded.
func (r *WorkflowInstanceRepository) FindByIDWithNodes(ctx context.Context, id uuid.UUID) (*models.WorkflowInstanceModel, error) {
	instance := &models.WorkflowInstanceModel{}
	err := r.db.NewSelect().
		Model(instance).
		Relation("Nodes").
		Where("wi.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow instance not found: %s", id)
		}
		return nil, fmt.Errorf("failed to find workflow instance %s with nodes: %w", id, err)
	}
	return instance, nil
}

// FindByStatus retrieves workflow instances by status with pagination.
func (r *WorkflowInstanceRepository) FindByStatus(ctx context.Context, status string, limit, offset int) ([]*models.WorkflowInstanceModel, error) {
	var instances []*models.WorkflowInstanceModel
	err := r.db.NewSelect().
		Model(&instances).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find workflow instances with status %s: %w", status, err)
	}
	return instances, nil
}

// FindByDefinitionID retrieves workflow instances for a given definition.
func (r *WorkflowInstanceRepository) FindByDefinitionID(ctx context.Context, definitionID uuid.UUID, limit, offset int) ([]*models.WorkflowInstanceModel, error) {
	var instances []*models.WorkflowInstanceModel
	err := r.db.NewSelect().
		Model(&instances).
		Where("definition_id = ?", definitionID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find workflow instances for definition %s: %w", definitionID, err)
	}
	return instances, nil
}

// CountActiveByDefinition counts instances in pending/running/paused status.
func (r *WorkflowInstanceRepository) CountActiveByDefinition(ctx context.Context, definitionID uuid.UUID) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.WorkflowInstanceModel)(nil)).
		Where("definition_id = ? AND status IN (?)", definitionID, bun.In([]string{"pending", "running", "paused"})).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count active instances for definition %s: %w", definitionID, err)
	}
	return count, nil
}

// AcquireSchedulerLock claims the instance for a scheduler tick, atomically
// setting lock_owner/locked_until only if the instance is unlocked or its
// lock has expired.
func (r *WorkflowInstanceRepository) AcquireSchedulerLock(ctx context.Context, id uuid.UUID, owner string, lockedUntil time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*models.WorkflowInstanceModel)(nil)).
		Set("lock_owner = ?", owner).
		Set("locked_until = ?", lockedUntil).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND (lock_owner = '' OR locked_until IS NULL OR locked_until < ?)", id, time.Now()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire scheduler lock for instance %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read scheduler lock result for %s: %w", id, err)
	}
	return affected > 0, nil
}

// ReleaseSchedulerLock clears the scheduler lock if owner still holds it.
func (r *WorkflowInstanceRepository) ReleaseSchedulerLock(ctx context.Context, id uuid.UUID, owner string) error {
	_, err := r.db.NewUpdate().
		Model((*models.WorkflowInstanceModel)(nil)).
		Set("lock_owner = ''").
		Set("locked_until = NULL").
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND lock_owner = ?", id, owner).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to release scheduler lock for instance %s: %w", id, err)
	}
	return nil
}

// FindInterrupted returns running instances whose scheduler lock has
// expired — candidates for MarkInterrupted and re-adoption.
func (r *WorkflowInstanceRepository) FindInterrupted(ctx context.Context, now time.Time) ([]*models.WorkflowInstanceModel, error) {
	var instances []*models.WorkflowInstanceModel
	err := r.db.NewSelect().
		Model(&instances).
		Where("status = 'running' AND locked_until IS NOT NULL AND locked_until < ?", now).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find interrupted instances: %w", err)
	}
	return instances, nil
}

// CreateNodeInstance inserts a single node instance row.
func (r *WorkflowInstanceRepository) CreateNodeInstance(ctx context.Context, node *models.NodeInstanceModel) error {
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	_, err := dbFrom(ctx, r.db).NewInsert().Model(node).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create node instance: %w", err)
	}
	return nil
}

// CreateNodeInstances inserts a batch of sub-node rows in one statement —
// the loop/parallel fan-out's "creating" phase.
func (r *WorkflowInstanceRepository) CreateNodeInstances(ctx context.Context, nodes []*models.NodeInstanceModel) error {
	if len(nodes) == 0 {
		return nil
	}
	for _, n := range nodes {
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
	}
	_, err := dbFrom(ctx, r.db).NewInsert().Model(&nodes).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create node instances: %w", err)
	}
	return nil
}

// UpdateNodeInstance updates an existing node instance.
func (r *WorkflowInstanceRepository) UpdateNodeInstance(ctx context.Context, node *models.NodeInstanceModel) error {
	_, err := dbFrom(ctx, r.db).NewUpdate().
		Model(node).
		Column("status", "loop_status", "loop_total", "loop_completed", "loop_failed",
			"output_data", "retry_count", "started_at", "completed_at",
			"error_message", "error_details", "updated_at").
		Where("id = ?", node.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update node instance %s: %w", node.ID, err)
	}
	return nil
}

// FindNodeInstanceByID retrieves a node instance by ID.
func (r *WorkflowInstanceRepository) FindNodeInstanceByID(ctx context.Context, id uuid.UUID) (*models.NodeInstanceModel, error) {
	node := &models.NodeInstanceModel{}
	err := dbFrom(ctx, r.db).NewSelect().Model(node).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("node instance not found: %s", id)
		}
		return nil, fmt.Errorf("failed to find node instance %s: %w", id, err)
	}
	return node, nil
}

// FindNodeInstancesByWorkflowInstance retrieves every node instance for a
// workflow instance, in creation order.
func (r *WorkflowInstanceRepository) FindNodeInstancesByWorkflowInstance(ctx context.Context, workflowInstanceID uuid.UUID) ([]*models.NodeInstanceModel, error) {
	var nodes []*models.NodeInstanceModel
	err := r.db.NewSelect().
		Model(&nodes).
		Where("workflow_instance_id = ?", workflowInstanceID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find node instances for workflow instance %s: %w", workflowInstanceID, err)
	}
	return nodes, nil
}

// FindChildNodeInstances retrieves the sub-nodes fanned out by a
// parallel/loop node, ordered by child_index.
func (r *WorkflowInstanceRepository) FindChildNodeInstances(ctx context.Context, parentNodeID uuid.UUID) ([]*models.NodeInstanceModel, error) {
	var nodes []*models.NodeInstanceModel
	err := dbFrom(ctx, r.db).NewSelect().
		Model(&nodes).
		Where("parent_node_id = ?", parentNodeID).
		Order("child_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find child node instances for %s: %w", parentNodeID, err)
	}
	return nodes, nil
}

// RunInTx runs fn inside a single database transaction so a loop/parallel
// node's fan-out and its parent's phase transition commit atomically.
func (r *WorkflowInstanceRepository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(withTx(ctx, tx))
	})
}

// FindAllWithFilters retrieves instances matching filters, newest first.
func (r *WorkflowInstanceRepository) FindAllWithFilters(ctx context.Context, filters repository.InstanceFilters, limit, offset int) ([]*models.WorkflowInstanceModel, error) {
	var instances []*models.WorkflowInstanceModel
	q := r.db.NewSelect().Model(&instances)
	q = applyInstanceFilters(q, filters)
	err := q.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find workflow instances with filters: %w", err)
	}
	return instances, nil
}

// CountWithFilters returns the count of instances matching filters.
func (r *WorkflowInstanceRepository) CountWithFilters(ctx context.Context, filters repository.InstanceFilters) (int, error) {
	q := r.db.NewSelect().Model((*models.WorkflowInstanceModel)(nil))
	q = applyInstanceFilters(q, filters)
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count workflow instances with filters: %w", err)
	}
	return count, nil
}

func applyInstanceFilters(q *bun.SelectQuery, filters repository.InstanceFilters) *bun.SelectQuery {
	if filters.DefinitionID != nil {
		q = q.Where("definition_id = ?", *filters.DefinitionID)
	}
	if filters.Status != nil {
		q = q.Where("status = ?", *filters.Status)
	}
	if filters.Since != nil {
		q = q.Where("created_at >= ?", *filters.Since)
	}
	return q
}

// Stats aggregates per-status counts and average completion duration for
// getWorkflowStats, scoped by the same filters as FindAllWithFilters (Status
// is ignored here since the breakdown groups by status itself).
func (r *WorkflowInstanceRepository) Stats(ctx context.Context, filters repository.InstanceFilters) (*repository.InstanceStats, error) {
	type row struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	var rows []row
	q := r.db.NewSelect().
		Model((*models.WorkflowInstanceModel)(nil)).
		ColumnExpr("status").
		ColumnExpr("count(*) AS count").
		GroupExpr("status")
	if filters.DefinitionID != nil {
		q = q.Where("definition_id = ?", *filters.DefinitionID)
	}
	if filters.Since != nil {
		q = q.Where("created_at >= ?", *filters.Since)
	}
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to aggregate workflow instance stats: %w", err)
	}

	stats := &repository.InstanceStats{ByStatus: make(map[string]int, len(rows))}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}

	var avgMs sql.NullFloat64
	avgQ := r.db.NewSelect().
		Model((*models.WorkflowInstanceModel)(nil)).
		ColumnExpr("AVG(EXTRACT(EPOCH FROM (completed_at - started_at)) * 1000)").
		Where("status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL")
	if filters.DefinitionID != nil {
		avgQ = avgQ.Where("definition_id = ?", *filters.DefinitionID)
	}
	if filters.Since != nil {
		avgQ = avgQ.Where("created_at >= ?", *filters.Since)
	}
	if err := avgQ.Scan(ctx, &avgMs); err != nil {
		return nil, fmt.Errorf("failed to compute workflow instance average duration: %w", err)
	}
	if avgMs.Valid {
		stats.AvgMs = avgMs.Float64
	}
	return stats, nil
}

// DeleteCompletedBefore removes terminal instances completed before the
// cutoff. Node instance rows cascade via the schema's foreign key.
func (r *WorkflowInstanceRepository) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.WorkflowInstanceModel)(nil)).
		Where("status IN (?) AND completed_at IS NOT NULL AND completed_at < ?",
			bun.In([]string{"completed", "failed", "cancelled"}), before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed workflow instances before %s: %w", before, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return affected, nil
}
