package serviceapi

import (
	"github.com/smilemakc/mbflow/internal/application/engine"
	"github.com/smilemakc/mbflow/internal/application/schedule"
	"github.com/smilemakc/mbflow/internal/application/systemkey"
	"github.com/smilemakc/mbflow/internal/domain/repository"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/pkg/crypto"
	"github.com/smilemakc/mbflow/pkg/executor"
)

// Operations provides transport-agnostic business logic for the Service API.
// Both REST and gRPC handlers delegate to these operations.
type Operations struct {
	WorkflowRepo    repository.WorkflowRepository
	ExecutionRepo   repository.ExecutionRepository
	TriggerRepo     repository.TriggerRepository
	CredentialsRepo repository.CredentialsRepository
	ExecutionMgr    *engine.ExecutionManager
	ExecutorManager executor.Manager
	EncryptionSvc   *crypto.EncryptionService
	AuditService    *systemkey.AuditService
	// ScheduleSvc is optional: nil until a caller wires C11's cron-driven
	// schedule service in, at which point ops_schedules.go's operations
	// become usable.
	ScheduleSvc *schedule.Service
	Logger      *logger.Logger
}
