package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
	"github.com/davidmoltin/ai-action-queue/pkg/metrics"
)

// AuditRepository stores audit entries. Entries are never updated.
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditEntry) error
	List(ctx context.Context, tenantID string, filter models.AuditFilter) ([]*models.AuditEntry, error)
}

// ActionStatus is the outcome of one execution attempt
type ActionStatus string

const (
	ActionStatusSucceeded        ActionStatus = "succeeded"
	ActionStatusValidationFailed ActionStatus = "validation_failed"
	ActionStatusPendingApproval  ActionStatus = "pending_approval"
	ActionStatusFailed           ActionStatus = "failed"
)

// ValidationResult reports whether params match an action's schema
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// ActionResult is returned for every execution attempt
type ActionResult struct {
	Action           models.ActionType `json:"action"`
	Status           ActionStatus      `json:"status"`
	Confidence       *float64          `json:"confidence,omitempty"`
	RequiresApproval bool              `json:"requires_approval"`
	Approved         bool              `json:"approved,omitempty"`
	Summary          string            `json:"summary,omitempty"`
	Payload          models.JSONB      `json:"payload,omitempty"`
	Errors           []string          `json:"errors,omitempty"`
	AuditEntryID     string            `json:"audit_entry_id,omitempty"`
	Executor         string            `json:"executor,omitempty"`
	Duration         time.Duration     `json:"duration"`
	Retryable        bool              `json:"retryable,omitempty"`

	// Err is the classified cause for validation_failed and failed results
	Err error `json:"-"`
}

// ExecutionEngine validates, runs, gates and audits actions
type ExecutionEngine struct {
	registry  *Registry
	gate      *ApprovalGate
	executor  Executor
	audit     AuditRepository
	loader    EntityLoader
	committer Committer
	timeout   time.Duration
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures an ExecutionEngine
type Option func(*ExecutionEngine)

// WithEntityLoader sets where entity snapshots come from
func WithEntityLoader(loader EntityLoader) Option {
	return func(e *ExecutionEngine) { e.loader = loader }
}

// WithCommitter sets the side effect applier
func WithCommitter(c Committer) Option {
	return func(e *ExecutionEngine) { e.committer = c }
}

// WithTimeout bounds each executor call
func WithTimeout(d time.Duration) Option {
	return func(e *ExecutionEngine) { e.timeout = d }
}

// WithMetrics records outcome metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *ExecutionEngine) { e.metrics = m }
}

// WithDefaultThreshold replaces the global 0.7 confidence threshold
func WithDefaultThreshold(threshold float64) Option {
	return func(e *ExecutionEngine) { e.gate = NewApprovalGate(e.registry, threshold) }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *ExecutionEngine) { e.now = now }
}

// NewExecutionEngine creates an engine
func NewExecutionEngine(registry *Registry, executor Executor, audit AuditRepository, log *logger.Logger, opts ...Option) *ExecutionEngine {
	e := &ExecutionEngine{
		registry: registry,
		gate:     NewApprovalGate(registry, DefaultConfidenceThreshold),
		executor: executor,
		audit:    audit,
		logger:   log.Named("engine"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the action registry
func (e *ExecutionEngine) Registry() *Registry {
	return e.registry
}

// ValidateAIActionParams checks params against the action's schema
func (e *ExecutionEngine) ValidateAIActionParams(actionType models.ActionType, params models.JSONB) ValidationResult {
	valid, errs := e.registry.Validate(actionType, params)
	return ValidationResult{Valid: valid, Errors: errs}
}

// CheckRequiresApproval reports whether a result with this confidence must wait for approval
func (e *ExecutionEngine) CheckRequiresApproval(actionType models.ActionType, params models.JSONB, confidence float64) bool {
	return e.gate.RequiresApproval(actionType, params, confidence)
}

// ExecuteAIAction validates, runs and gates an action, then audits the outcome.
// The returned error is non-nil only when the audit entry could not be written;
// the outcome itself is always carried by the result.
func (e *ExecutionEngine) ExecuteAIAction(ctx context.Context, actionType models.ActionType, ec ExecutionContext, params models.JSONB) (*ActionResult, error) {
	start := e.now()
	if ec.Actor == "" {
		ec.Actor = models.ActorSystem
		if ec.UserID != nil && *ec.UserID != "" {
			ec.Actor = *ec.UserID
		}
	}

	log := e.logger.WithTenant(ec.TenantID).With(
		logger.String("action", string(actionType)),
		logger.String("entity_id", ec.EntityID),
	)

	result := &ActionResult{Action: actionType, Executor: e.executor.Name()}
	details := models.JSONB{"params": map[string]interface{}(params.Clone())}

	e.run(ctx, actionType, ec, params, result, details, log)

	result.Duration = e.now().Sub(start)
	details["duration_ms"] = result.Duration.Milliseconds()
	if len(result.Errors) > 0 {
		details["errors"] = result.Errors
	}

	e.metrics.RecordOutcome(string(actionType), string(result.Status))
	e.metrics.ObserveExecute(string(actionType), result.Duration)

	entry := e.auditEntryFor(actionType, ec, result, details)
	if err := e.LogAIWorkflowAction(ctx, entry); err != nil {
		log.Error("Failed to write audit entry", logger.Err(err))
		return result, fmt.Errorf("failed to write audit entry: %w", err)
	}
	result.AuditEntryID = entry.ID

	log.Info("Action executed",
		logger.String("status", string(result.Status)),
		logger.Bool("requires_approval", result.RequiresApproval),
		logger.Duration("duration", result.Duration),
	)
	return result, nil
}

// run fills result; it never returns early without setting a status
func (e *ExecutionEngine) run(
	ctx context.Context,
	actionType models.ActionType,
	ec ExecutionContext,
	params models.JSONB,
	result *ActionResult,
	details models.JSONB,
	log *logger.Logger,
) {
	if errs := validateContext(ec); len(errs) > 0 {
		e.rejectInput(result, string(actionType), errs)
		return
	}

	if _, ok := e.registry.Get(actionType); !ok {
		result.Status = ActionStatusValidationFailed
		result.RequiresApproval = true
		result.Errors = []string{fmt.Sprintf("%s: %s", ErrUnknownAction, actionType)}
		result.Err = NoRetry(fmt.Errorf("%w: %s", ErrUnknownAction, actionType))
		return
	}

	if v := e.ValidateAIActionParams(actionType, params); !v.Valid {
		e.rejectInput(result, string(actionType), v.Errors)
		return
	}

	entity, loaded, err := e.loadEntity(ctx, ec)
	if err != nil {
		e.fail(result, fmt.Errorf("failed to load entity: %w", err), true)
		log.Warn("Entity load failed", logger.Err(err))
		return
	}
	details["entity_loaded"] = loaded
	details["threshold"] = e.gate.EffectiveThreshold(actionType, params)

	execCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	out, err := e.executor.Execute(execCtx, ExecutionRequest{
		Action:  actionType,
		Context: ec,
		Params:  params,
		Entity:  entity,
	})
	if err != nil {
		wrapped, retryable := classifyExecutorError(err)
		e.fail(result, wrapped, retryable)
		log.Warn("Executor failed", logger.Err(err), logger.Bool("retryable", retryable))
		return
	}

	confidence := out.Confidence
	result.Confidence = &confidence
	result.Summary = out.Summary
	result.Payload = out.Payload
	result.RequiresApproval = e.gate.RequiresApproval(actionType, params, confidence)

	if result.RequiresApproval && !ec.ApprovalGranted {
		result.Status = ActionStatusPendingApproval
		return
	}
	result.Approved = result.RequiresApproval && ec.ApprovalGranted

	if e.committer != nil {
		if err := e.committer.Commit(ctx, actionType, ec, out); err != nil {
			e.fail(result, err, true)
			log.Warn("Commit failed", logger.Err(err))
			return
		}
	}
	result.Status = ActionStatusSucceeded
}

func (e *ExecutionEngine) rejectInput(result *ActionResult, action string, errs []string) {
	result.Status = ActionStatusValidationFailed
	result.Errors = errs
	result.Err = NoRetry(&ValidationError{Action: action, Errors: errs})
}

func (e *ExecutionEngine) fail(result *ActionResult, err error, retryable bool) {
	result.Status = ActionStatusFailed
	result.Errors = []string{err.Error()}
	result.Retryable = retryable
	if !retryable && !IsNoRetry(err) {
		err = NoRetry(err)
	}
	result.Err = err
}

func validateContext(ec ExecutionContext) []string {
	var errs []string
	if ec.TenantID == "" {
		errs = append(errs, "tenant_id is required")
	}
	if ec.EntityID == "" {
		errs = append(errs, "entity_id is required")
	}
	if !ec.EntityType.Valid() {
		errs = append(errs, fmt.Sprintf("entity_type %q is not supported", ec.EntityType))
	}
	return errs
}

// loadEntity resolves the snapshot. A record unknown to the loader runs with identifiers only.
func (e *ExecutionEngine) loadEntity(ctx context.Context, ec ExecutionContext) (models.JSONB, bool, error) {
	entity := ec.Entity
	loaded := entity != nil

	if entity == nil && e.loader != nil {
		data, err := e.loader.LoadEntity(ctx, ec.TenantID, ec.EntityType, ec.EntityID)
		switch {
		case err == nil:
			entity = data
			loaded = true
		case errors.Is(err, models.ErrNotFound):
		default:
			return nil, false, err
		}
	}

	if entity == nil {
		entity = models.JSONB{}
	}
	if _, ok := entity["id"]; !ok {
		entity = entity.Clone()
		entity["id"] = ec.EntityID
	}
	return enrichEntity(entity, e.now()), loaded, nil
}

func (e *ExecutionEngine) auditEntryFor(actionType models.ActionType, ec ExecutionContext, result *ActionResult, details models.JSONB) *models.AuditEntry {
	entry := &models.AuditEntry{
		TenantID:         ec.TenantID,
		Action:           actionType,
		EntityType:       ec.EntityType,
		EntityID:         ec.EntityID,
		Confidence:       result.Confidence,
		RequiresApproval: result.RequiresApproval,
		Outcome:          models.AuditOutcome(result.Status),
		Actor:            ec.Actor,
		QueueItemID:      ec.QueueItemID,
		WorkflowID:       ec.WorkflowID,
		Details:          details,
	}

	switch result.Status {
	case ActionStatusSucceeded:
		entry.Result = result.Summary
		if result.Payload != nil {
			details["payload"] = map[string]interface{}(result.Payload)
		}
		if result.RequiresApproval {
			approved := true
			entry.Approved = &approved
		}
	case ActionStatusPendingApproval:
		entry.Result = "awaiting approval"
		approved := false
		entry.Approved = &approved
		if result.Payload != nil {
			details["payload"] = map[string]interface{}(result.Payload)
		}
	default:
		if len(result.Errors) > 0 {
			entry.Result = result.Errors[0]
		}
	}
	details["executor"] = result.Executor
	return entry
}

// LogAIWorkflowAction appends an audit entry, filling its id and timestamp when missing
func (e *ExecutionEngine) LogAIWorkflowAction(ctx context.Context, entry *models.AuditEntry) error {
	if entry.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrValidation)
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = e.now().UTC()
	}
	if entry.Actor == "" {
		entry.Actor = models.ActorSystem
	}
	return e.audit.Create(ctx, entry)
}

// GetAIWorkflowAuditLog returns a tenant's audit entries, newest first
func (e *ExecutionEngine) GetAIWorkflowAuditLog(ctx context.Context, tenantID string, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrValidation)
	}
	return e.audit.List(ctx, tenantID, filter)
}
