package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/llm"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
	"github.com/davidmoltin/ai-action-queue/pkg/metrics"
)

// ExecutionContext identifies who and what an action runs against
type ExecutionContext struct {
	TenantID    string            `json:"tenant_id"`
	EntityType  models.EntityType `json:"entity_type"`
	EntityID    string            `json:"entity_id"`
	UserID      *string           `json:"user_id,omitempty"`
	WorkflowID  *string           `json:"workflow_id,omitempty"`
	QueueItemID *string           `json:"queue_item_id,omitempty"`
	Actor       string            `json:"actor,omitempty"`

	// ApprovalGranted is set by an approval flow re-invoking a gated action
	ApprovalGranted bool `json:"approval_granted,omitempty"`

	// Entity is a caller-supplied snapshot. When nil the engine uses its EntityLoader.
	Entity models.JSONB `json:"entity,omitempty"`
}

// ExecutionRequest is what an Executor receives
type ExecutionRequest struct {
	Action  models.ActionType
	Context ExecutionContext
	Params  models.JSONB
	Entity  models.JSONB
}

// ExecutorOutput is the raw answer of a backend before gating
type ExecutorOutput struct {
	Confidence float64      `json:"confidence"`
	Summary    string       `json:"summary,omitempty"`
	Payload    models.JSONB `json:"payload,omitempty"`
}

// Executor is the backend that produces a result and confidence for an action
type Executor interface {
	Name() string
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutorOutput, error)
}

// BreakerSettings tunes the per-action circuit breakers
type BreakerSettings struct {
	FailureRatio float64
	MinRequests  uint32
	OpenTimeout  time.Duration
	Interval     time.Duration
}

// DefaultBreakerSettings mirrors the database breaker
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureRatio: 0.6,
		MinRequests:  3,
		OpenTimeout:  60 * time.Second,
		Interval:     10 * time.Second,
	}
}

// BreakerExecutor guards another executor with one circuit breaker per action type
type BreakerExecutor struct {
	next     Executor
	settings BreakerSettings
	logger   *logger.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	breakers map[models.ActionType]*gobreaker.CircuitBreaker
}

// NewBreakerExecutor wraps next. m may be nil.
func NewBreakerExecutor(next Executor, settings BreakerSettings, log *logger.Logger, m *metrics.Metrics) *BreakerExecutor {
	if settings.FailureRatio <= 0 || settings.FailureRatio > 1 {
		settings.FailureRatio = DefaultBreakerSettings().FailureRatio
	}
	if settings.MinRequests == 0 {
		settings.MinRequests = DefaultBreakerSettings().MinRequests
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = DefaultBreakerSettings().OpenTimeout
	}
	return &BreakerExecutor{
		next:     next,
		settings: settings,
		logger:   log,
		metrics:  m,
		breakers: make(map[models.ActionType]*gobreaker.CircuitBreaker),
	}
}

// Name returns the wrapped executor's name
func (b *BreakerExecutor) Name() string {
	return b.next.Name()
}

// Execute runs the wrapped executor through the action's breaker
func (b *BreakerExecutor) Execute(ctx context.Context, req ExecutionRequest) (*ExecutorOutput, error) {
	cb := b.breaker(req.Action)

	out, err := cb.Execute(func() (interface{}, error) {
		return b.next.Execute(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*ExecutorOutput), nil
}

// State reports the breaker state for an action
func (b *BreakerExecutor) State(action models.ActionType) gobreaker.State {
	return b.breaker(action).State()
}

func (b *BreakerExecutor) breaker(action models.ActionType) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[action]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        string(action),
		MaxRequests: 1,
		Interval:    b.settings.Interval,
		Timeout:     b.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= b.settings.MinRequests && ratio >= b.settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// Bad input from one caller must not open the breaker for everyone
			return err == nil || IsNoRetry(err) || errors.Is(err, llm.ErrInvalidRequest)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Warn("Executor circuit breaker state changed",
				logger.String("action", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			b.metrics.SetBreakerState(name, int(to))
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	b.breakers[action] = cb
	return cb
}

// classifyExecutorError decides whether a backend error may succeed on a later attempt
func classifyExecutorError(err error) (wrapped error, retryable bool) {
	wrapped = fmt.Errorf("%w: %w", ErrExecutorFailure, err)

	switch {
	case IsNoRetry(err):
		return NoRetry(wrapped), false
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return wrapped, true
	case errors.Is(err, context.DeadlineExceeded):
		return wrapped, true
	case llm.IsRetryable(err):
		return wrapped, true
	case errors.Is(err, llm.ErrInvalidAPIKey), errors.Is(err, llm.ErrInvalidRequest),
		errors.Is(err, llm.ErrModelNotFound), errors.Is(err, llm.ErrMalformedOutput):
		return NoRetry(wrapped), false
	}
	return wrapped, true
}
