package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
)

// InstanceFilters represents optional filters for workflow instance queries,
// mirroring WorkflowFilters' shape for the instance side of the API.
type InstanceFilters struct {
	DefinitionID *uuid.UUID // Filter by definition (optional)
	Status       *string    // Filter by status (optional)
	Since        *time.Time // Only instances created at/after this time (optional)
}

// InstanceStats summarizes instance outcomes for a definition (or across all
// definitions) over a time window — the data behind getWorkflowStats.
type InstanceStats struct {
	Total     int
	ByStatus  map[string]int
	AvgMs     float64 // average completed_at-started_at across terminal instances, 0 if none
}

// WorkflowInstanceRepository defines persistence for durable, resumable
// workflow runs and their node instances.
type WorkflowInstanceRepository interface {
	Create(ctx context.Context, instance *models.WorkflowInstanceModel) error

	// UpdateStatus persists a single status transition plus whatever
	// variables/output/error accompany it. Called after every node
	// transition so a crash can never lose more than the in-flight node.
	UpdateStatus(ctx context.Context, instance *models.WorkflowInstanceModel) error

	FindByID(ctx context.Context, id uuid.UUID) (*models.WorkflowInstanceModel, error)

	FindByIDWithNodes(ctx context.Context, id uuid.UUID) (*models.WorkflowInstanceModel, error)

	FindByStatus(ctx context.Context, status string, limit, offset int) ([]*models.WorkflowInstanceModel, error)

	FindByDefinitionID(ctx context.Context, definitionID uuid.UUID, limit, offset int) ([]*models.WorkflowInstanceModel, error)

	// CountActiveByDefinition counts instances in pending/running/paused
	// status for definitionID — used by the schedule service's
	// maxInstances gate.
	CountActiveByDefinition(ctx context.Context, definitionID uuid.UUID) (int, error)

	// FindAllWithFilters retrieves instances matching filters, newest first.
	FindAllWithFilters(ctx context.Context, filters InstanceFilters, limit, offset int) ([]*models.WorkflowInstanceModel, error)

	// CountWithFilters returns the count of instances matching filters.
	CountWithFilters(ctx context.Context, filters InstanceFilters) (int, error)

	// Stats aggregates instance counts/durations for getWorkflowStats.
	Stats(ctx context.Context, filters InstanceFilters) (*InstanceStats, error)

	// DeleteCompletedBefore removes terminal instances (and their node rows,
	// via ON DELETE CASCADE) completed before the cutoff — cleanupExpiredInstances.
	DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error)

	// AcquireSchedulerLock claims the instance for a scheduler tick,
	// atomically setting lock_owner/locked_until only if the instance is
	// unlocked or its lock has expired. Mirrors the LockRepository upsert
	// pattern but scoped to a single row's lock columns.
	AcquireSchedulerLock(ctx context.Context, id uuid.UUID, owner string, lockedUntil time.Time) (bool, error)

	ReleaseSchedulerLock(ctx context.Context, id uuid.UUID, owner string) error

	// FindInterrupted returns running instances whose scheduler lock has
	// expired — candidates for MarkInterrupted and re-adoption.
	FindInterrupted(ctx context.Context, now time.Time) ([]*models.WorkflowInstanceModel, error)

	CreateNodeInstance(ctx context.Context, node *models.NodeInstanceModel) error

	// CreateNodeInstances inserts a batch of sub-node rows in one
	// statement — the loop/parallel fan-out's "creating" phase.
	CreateNodeInstances(ctx context.Context, nodes []*models.NodeInstanceModel) error

	UpdateNodeInstance(ctx context.Context, node *models.NodeInstanceModel) error

	FindNodeInstanceByID(ctx context.Context, id uuid.UUID) (*models.NodeInstanceModel, error)

	FindNodeInstancesByWorkflowInstance(ctx context.Context, workflowInstanceID uuid.UUID) ([]*models.NodeInstanceModel, error)

	FindChildNodeInstances(ctx context.Context, parentNodeID uuid.UUID) ([]*models.NodeInstanceModel, error)

	// RunInTx runs fn inside a single database transaction so a loop/
	// parallel node's fan-out and its parent's phase transition commit
	// atomically together.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
