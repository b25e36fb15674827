package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/davidmoltin/ai-action-queue/internal/engine"
	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
	"github.com/davidmoltin/ai-action-queue/pkg/metrics"
	"github.com/davidmoltin/ai-action-queue/pkg/validator"
)

// QueueRepository stores queue items
type QueueRepository interface {
	Insert(ctx context.Context, item *models.QueueItem) error
	Get(ctx context.Context, id string) (*models.QueueItem, error)
	// Update writes item only while the stored item is in status expected
	Update(ctx context.Context, item *models.QueueItem, expected models.QueueItemStatus) error
	// UpdateClaimed writes item only while the stored item is processing under claimID
	UpdateClaimed(ctx context.Context, item *models.QueueItem, claimID string) error
	// ClaimNext atomically moves the first eligible pending item to processing
	ClaimNext(ctx context.Context, now time.Time, claimID string) (*models.QueueItem, error)
	List(ctx context.Context, filter models.QueueFilter) ([]*models.QueueItem, error)
	DeleteWhere(ctx context.Context, filter models.QueueFilter) ([]*models.QueueItem, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
}

// Processor consumes one claimed item. It reports success, or an error to be retried;
// errors marked with engine.NoRetry dead-letter the item immediately.
type Processor func(ctx context.Context, item models.QueueItem) (bool, error)

// Backoff strategies
const (
	BackoffExponential = "exponential"
	BackoffLinear      = "linear"
	BackoffFixed       = "fixed"
)

// BackoffConfig shapes the delay before a failed item becomes eligible again
type BackoffConfig struct {
	Strategy     string        `json:"strategy" validate:"oneof=exponential linear fixed"`
	InitialDelay time.Duration `json:"initial_delay" validate:"gte=0"`
	MaxDelay     time.Duration `json:"max_delay" validate:"gte=0"`
	Multiplier   float64       `json:"multiplier" validate:"gte=1"`
}

// Delay returns the wait after the given failed attempt (1-based)
func (b BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch b.Strategy {
	case BackoffLinear:
		d = b.InitialDelay * time.Duration(attempt)
	case BackoffFixed:
		d = b.InitialDelay
	default:
		f := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt-1))
		if f > math.MaxInt64 {
			f = math.MaxInt64
		}
		d = time.Duration(f)
	}

	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// QueueConfig holds queue-wide defaults
type QueueConfig struct {
	MaxAttempts int           `json:"max_attempts" validate:"gte=1"`
	Backoff     BackoffConfig `json:"backoff"`
	Concurrency int           `json:"concurrency" validate:"gte=1,lte=1000"`
	StaleAfter  time.Duration `json:"stale_after" validate:"gt=0"`
}

// DefaultQueueConfig returns the defaults used when nothing is configured
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxAttempts: 3,
		Backoff: BackoffConfig{
			Strategy:     BackoffExponential,
			InitialDelay: time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2,
		},
		Concurrency: 5,
		StaleAfter:  5 * time.Minute,
	}
}

// ProcessSummary reports one ProcessQueue pass
type ProcessSummary struct {
	Claimed      int `json:"claimed"`
	Succeeded    int `json:"succeeded"`
	Retried      int `json:"retried"`
	DeadLettered int `json:"dead_lettered"`
	Stale        int `json:"stale"`
}

type processOutcome int

const (
	outcomeSucceeded processOutcome = iota
	outcomeRetried
	outcomeDeadLettered
	outcomeStale
)

func (s *ProcessSummary) add(o processOutcome) {
	switch o {
	case outcomeSucceeded:
		s.Succeeded++
	case outcomeRetried:
		s.Retried++
	case outcomeDeadLettered:
		s.DeadLettered++
	case outcomeStale:
		s.Stale++
	}
}

// QueueOption configures a QueueService
type QueueOption func(*QueueService)

// WithQueueClock replaces time.Now
func WithQueueClock(now func() time.Time) QueueOption {
	return func(s *QueueService) { s.now = now }
}

// WithQueueMetrics records queue metrics
func WithQueueMetrics(m *metrics.Metrics) QueueOption {
	return func(s *QueueService) { s.metrics = m }
}

// WithParamValidator rejects items whose params fail validation at enqueue time
func WithParamValidator(v engine.ParamValidator) QueueOption {
	return func(s *QueueService) { s.validator = v }
}

// WithMaxAttemptsFor sets a per-action retry budget. Zero falls back to the queue default.
func WithMaxAttemptsFor(fn func(models.ActionType) int) QueueOption {
	return func(s *QueueService) { s.maxAttemptsFor = fn }
}

// QueueService is a priority queue with retry, backoff and a dead-letter queue
type QueueService struct {
	repo           QueueRepository
	logger         *logger.Logger
	metrics        *metrics.Metrics
	validator      engine.ParamValidator
	maxAttemptsFor func(models.ActionType) int
	now            func() time.Time
	listeners      *listenerSet[models.QueueEvent]

	mu        sync.Mutex
	cfg       QueueConfig
	processor Processor
	inFlight  int
	wg        sync.WaitGroup

	totalEnqueued     atomic.Int64
	totalProcessed    atomic.Int64
	totalSucceeded    atomic.Int64
	totalFailed       atomic.Int64
	totalDeadLettered atomic.Int64
	processingNanos   atomic.Int64

	recentMu    sync.Mutex
	completions []time.Time
}

// NewQueueService creates a queue. processor may be nil and set later with SetProcessor.
func NewQueueService(repo QueueRepository, cfg QueueConfig, processor Processor, log *logger.Logger, opts ...QueueOption) (*QueueService, error) {
	if err := validator.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid queue config: %w", err)
	}

	log = log.Named("queue")
	s := &QueueService{
		repo:      repo,
		logger:    log,
		now:       time.Now,
		listeners: newListenerSet[models.QueueEvent](log),
		cfg:       cfg,
		processor: processor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Configure replaces the queue configuration
func (s *QueueService) Configure(cfg QueueConfig) error {
	if err := validator.Validate(cfg); err != nil {
		return fmt.Errorf("invalid queue config: %w", err)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.logger.Info("Queue reconfigured",
		logger.Int("max_attempts", cfg.MaxAttempts),
		logger.Int("concurrency", cfg.Concurrency),
		logger.String("backoff", cfg.Backoff.Strategy),
	)
	return nil
}

// Config returns the current configuration
func (s *QueueService) Config() QueueConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetProcessor replaces the processor used for subsequent claims
func (s *QueueService) SetProcessor(p Processor) {
	s.mu.Lock()
	s.processor = p
	s.mu.Unlock()
}

// Subscribe registers a listener for every item transition
func (s *QueueService) Subscribe(listener func(models.QueueEvent)) func() {
	return s.listeners.subscribe(listener)
}

// Enqueue validates and stores a new pending item
func (s *QueueService) Enqueue(ctx context.Context, req models.EnqueueRequest) (*models.QueueItem, error) {
	item, err := s.newItem(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to enqueue item: %w", err)
	}

	s.totalEnqueued.Add(1)
	s.logger.Debug("Item enqueued",
		logger.String("item_id", item.ID),
		logger.String("action", string(item.Action)),
		logger.String("priority", string(item.Priority)),
	)
	s.notify(models.QueueEventEnqueued, item, "")
	return item.Clone(), nil
}

// EnqueueBatch validates every request before storing any of them
func (s *QueueService) EnqueueBatch(ctx context.Context, reqs []models.EnqueueRequest) ([]*models.QueueItem, error) {
	items := make([]*models.QueueItem, 0, len(reqs))
	for i, req := range reqs {
		item, err := s.newItem(req)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, item)
	}

	out := make([]*models.QueueItem, 0, len(items))
	for _, item := range items {
		if err := s.repo.Insert(ctx, item); err != nil {
			return out, fmt.Errorf("failed to enqueue item %s: %w", item.ID, err)
		}
		s.totalEnqueued.Add(1)
		s.notify(models.QueueEventEnqueued, item, "")
		out = append(out, item.Clone())
	}
	return out, nil
}

func (s *QueueService) newItem(req models.EnqueueRequest) (*models.QueueItem, error) {
	if err := validator.Validate(req); err != nil {
		return nil, &engine.ValidationError{Action: string(req.Action), Errors: validator.Messages(err)}
	}
	if s.validator != nil {
		if ok, errs := s.validator.Validate(req.Action, req.Params); !ok {
			return nil, &engine.ValidationError{Action: string(req.Action), Errors: errs}
		}
	}

	now := s.now().UTC()
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	return &models.QueueItem{
		ID:                id,
		ScheduledActionID: req.ScheduledActionID,
		Action:            req.Action,
		EntityType:        req.EntityType,
		EntityID:          req.EntityID,
		TenantID:          req.TenantID,
		UserID:            req.UserID,
		WorkflowID:        req.WorkflowID,
		Params:            req.Params.Clone(),
		Priority:          priority,
		Status:            models.QueueItemStatusPending,
		MaxAttempts:       s.resolveMaxAttempts(req),
		CreatedAt:         now,
		UpdatedAt:         now,
		AvailableAt:       now,
	}, nil
}

func (s *QueueService) resolveMaxAttempts(req models.EnqueueRequest) int {
	if req.MaxAttempts > 0 {
		return req.MaxAttempts
	}
	if s.maxAttemptsFor != nil {
		if n := s.maxAttemptsFor(req.Action); n > 0 {
			return n
		}
	}
	return s.Config().MaxAttempts
}

// Dequeue claims the next eligible item, or returns nil when none is eligible.
// The caller must report the result with Finish.
func (s *QueueService) Dequeue(ctx context.Context) (*models.QueueItem, error) {
	claimID := uuid.New().String()
	item, err := s.repo.ClaimNext(ctx, s.now().UTC(), claimID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim item: %w", err)
	}
	if item == nil {
		return nil, nil
	}
	s.notify(models.QueueEventProcessing, item, "")
	return item, nil
}

// Finish records the result of processing a claimed item
func (s *QueueService) Finish(ctx context.Context, item *models.QueueItem, ok bool, procErr error) error {
	_, err := s.finish(ctx, item, ok, procErr)
	return err
}

func (s *QueueService) finish(ctx context.Context, claimed *models.QueueItem, ok bool, procErr error) (processOutcome, error) {
	if claimed.ClaimID == nil {
		return outcomeStale, fmt.Errorf("%w: item %s carries no claim", models.ErrStaleClaim, claimed.ID)
	}
	claimID := *claimed.ClaimID
	now := s.now().UTC()
	cfg := s.Config()

	item := claimed.Clone()
	item.UpdatedAt = now
	item.ClaimID = nil
	item.ProcessingStartedAt = nil

	var (
		outcome processOutcome
		event   models.QueueEventType
		reason  string
	)

	if ok && procErr == nil {
		item.Status = models.QueueItemStatusCompleted
		item.CompletedAt = &now
		item.Error = nil
		outcome, event = outcomeSucceeded, models.QueueEventCompleted
	} else {
		if procErr == nil {
			procErr = errors.New("processor reported failure")
		}
		reason = procErr.Error()
		item.Error = &reason
		item.Attempts++

		if engine.IsNoRetry(procErr) || item.Attempts >= item.MaxAttempts {
			item.Status = models.QueueItemStatusDeadLettered
			outcome, event = outcomeDeadLettered, models.QueueEventDeadLettered
		} else {
			item.Status = models.QueueItemStatusPending
			item.AvailableAt = now.Add(cfg.Backoff.Delay(item.Attempts))
			outcome, event = outcomeRetried, models.QueueEventRetrying
		}
	}

	if err := s.repo.UpdateClaimed(ctx, item, claimID); err != nil {
		if errors.Is(err, models.ErrStaleClaim) || errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("StaleClaim: discarding result for item no longer held by this worker",
				logger.String("item_id", item.ID),
				logger.String("claim_id", claimID),
				logger.Bool("success", ok && procErr == nil),
			)
			s.metrics.IncStaleResult()
			return outcomeStale, nil
		}
		return outcomeStale, fmt.Errorf("failed to record result for item %s: %w", item.ID, err)
	}

	s.totalProcessed.Add(1)
	switch outcome {
	case outcomeSucceeded:
		s.totalSucceeded.Add(1)
		s.recordCompletion(now)
	case outcomeRetried:
		s.totalFailed.Add(1)
		s.notify(models.QueueEventFailed, item, reason)
	case outcomeDeadLettered:
		s.totalFailed.Add(1)
		s.totalDeadLettered.Add(1)
		s.notify(models.QueueEventFailed, item, reason)
		s.logger.Warn("Item moved to dead-letter queue",
			logger.String("item_id", item.ID),
			logger.String("action", string(item.Action)),
			logger.Int("attempts", item.Attempts),
			logger.String("error", reason),
		)
	}
	s.notify(event, item, reason)
	return outcome, nil
}

// Dispatch claims as many items as there are free worker slots and processes them in the
// background. It returns the number of items claimed.
func (s *QueueService) Dispatch(ctx context.Context) int {
	return s.dispatch(ctx, nil, nil)
}

// ProcessQueue claims a batch up to the concurrency limit, processes it concurrently and
// waits for the batch to finish
func (s *QueueService) ProcessQueue(ctx context.Context) (*ProcessSummary, error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		summary ProcessSummary
	)

	claimed := s.dispatch(ctx, &wg, func(o processOutcome) {
		mu.Lock()
		summary.add(o)
		mu.Unlock()
	})
	wg.Wait()

	summary.Claimed = claimed
	return &summary, nil
}

func (s *QueueService) dispatch(ctx context.Context, batch *sync.WaitGroup, done func(processOutcome)) int {
	s.mu.Lock()
	processor := s.processor
	free := s.cfg.Concurrency - s.inFlight
	if processor == nil || free <= 0 {
		s.mu.Unlock()
		return 0
	}
	s.inFlight += free
	s.mu.Unlock()

	claimed := 0
	for ; claimed < free; claimed++ {
		item, err := s.Dequeue(ctx)
		if err != nil {
			s.logger.Error("Failed to claim queue item", logger.Err(err))
			break
		}
		if item == nil {
			break
		}

		s.wg.Add(1)
		if batch != nil {
			batch.Add(1)
		}
		s.metrics.AddInFlight(1)
		go func(item *models.QueueItem) {
			defer s.wg.Done()
			if batch != nil {
				defer batch.Done()
			}
			defer s.release(1)
			defer s.metrics.AddInFlight(-1)

			outcome := s.process(ctx, processor, item)
			if done != nil {
				done(outcome)
			}
		}(item)
	}

	if unused := free - claimed; unused > 0 {
		s.release(unused)
	}
	return claimed
}

func (s *QueueService) release(n int) {
	s.mu.Lock()
	s.inFlight -= n
	s.mu.Unlock()
}

// process runs the processor for one item. Cancellation of ctx does not interrupt it.
func (s *QueueService) process(ctx context.Context, processor Processor, item *models.QueueItem) processOutcome {
	runCtx := context.WithoutCancel(ctx)
	start := s.now()

	ok, err := s.invoke(runCtx, processor, *item.Clone())

	elapsed := s.now().Sub(start)
	s.processingNanos.Add(int64(elapsed))
	result := "success"
	if !ok || err != nil {
		result = "failure"
	}
	s.metrics.ObserveProcess(string(item.Action), result, elapsed)

	outcome, ferr := s.finish(runCtx, item, ok, err)
	if ferr != nil {
		s.logger.Error("Failed to record processing result",
			logger.String("item_id", item.ID),
			logger.Err(ferr),
		)
	}
	return outcome
}

func (s *QueueService) invoke(ctx context.Context, processor Processor, item models.QueueItem) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("processor panic: %v", r)
		}
	}()
	return processor(ctx, item)
}

// Wait blocks until every in-flight item has been processed
func (s *QueueService) Wait() {
	s.wg.Wait()
}

// InFlight returns the number of processor calls currently running
func (s *QueueService) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// MoveToDLQ dead-letters a processing item. A result later reported by its worker is discarded.
func (s *QueueService) MoveToDLQ(ctx context.Context, id, reason string) (bool, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return notFoundAsFalse(err)
	}
	if item.Status != models.QueueItemStatusProcessing || item.ClaimID == nil {
		return false, nil
	}

	claimID := *item.ClaimID
	now := s.now().UTC()
	item.Status = models.QueueItemStatusDeadLettered
	item.Error = &reason
	item.ClaimID = nil
	item.ProcessingStartedAt = nil
	item.UpdatedAt = now

	if err := s.repo.UpdateClaimed(ctx, item, claimID); err != nil {
		return staleAsFalse(err)
	}
	s.totalDeadLettered.Add(1)
	s.notify(models.QueueEventDeadLettered, item, reason)
	return true, nil
}

// RetryItem returns a failed or dead-lettered item to pending with its attempts preserved.
// An exhausted item is granted exactly one more attempt.
func (s *QueueService) RetryItem(ctx context.Context, id string) (bool, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return notFoundAsFalse(err)
	}
	expected := item.Status
	if expected != models.QueueItemStatusFailed && expected != models.QueueItemStatusDeadLettered {
		return false, nil
	}

	if item.Attempts >= item.MaxAttempts {
		item.MaxAttempts = item.Attempts + 1
	}
	s.resetToPending(item)

	if err := s.repo.Update(ctx, item, expected); err != nil {
		return transitionAsFalse(err)
	}
	s.notify(models.QueueEventRequeued, item, "")
	return true, nil
}

// RequeueFromDLQ returns a dead-lettered item to pending with a fresh retry budget
func (s *QueueService) RequeueFromDLQ(ctx context.Context, id string) (bool, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return notFoundAsFalse(err)
	}
	if item.Status != models.QueueItemStatusDeadLettered {
		return false, nil
	}

	item.Attempts = 0
	s.resetToPending(item)

	if err := s.repo.Update(ctx, item, models.QueueItemStatusDeadLettered); err != nil {
		return transitionAsFalse(err)
	}
	s.notify(models.QueueEventRequeued, item, "")
	return true, nil
}

func (s *QueueService) resetToPending(item *models.QueueItem) {
	now := s.now().UTC()
	item.Status = models.QueueItemStatusPending
	item.AvailableAt = now
	item.UpdatedAt = now
	item.ClaimID = nil
	item.ProcessingStartedAt = nil
	item.CompletedAt = nil
}

// UpdateItemPriority moves a pending item to another tier. Its creation time, and so its
// place among peers of the new tier, is unchanged.
func (s *QueueService) UpdateItemPriority(ctx context.Context, id string, priority models.Priority) (bool, error) {
	if !priority.Valid() {
		return false, &engine.ValidationError{Action: "update_priority", Errors: []string{fmt.Sprintf("unknown priority %q", priority)}}
	}

	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return notFoundAsFalse(err)
	}
	if item.Status != models.QueueItemStatusPending {
		return false, nil
	}

	item.Priority = priority
	item.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, item, models.QueueItemStatusPending); err != nil {
		return transitionAsFalse(err)
	}
	s.notify(models.QueueEventReprioritized, item, "")
	return true, nil
}

// PrioritizeItem moves a pending item to the critical tier
func (s *QueueService) PrioritizeItem(ctx context.Context, id string) (bool, error) {
	return s.UpdateItemPriority(ctx, id, models.PriorityCritical)
}

// GetQueueItem returns an item or models.ErrNotFound
func (s *QueueService) GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error) {
	return s.repo.Get(ctx, id)
}

// GetPendingItems lists pending items in dequeue order. An empty tenantID lists every tenant.
func (s *QueueService) GetPendingItems(ctx context.Context, tenantID string) ([]*models.QueueItem, error) {
	return s.repo.List(ctx, models.QueueFilter{
		TenantID: optionalString(tenantID),
		Statuses: []models.QueueItemStatus{models.QueueItemStatusPending},
	})
}

// GetQueueItemsByTenant lists every item of a tenant
func (s *QueueService) GetQueueItemsByTenant(ctx context.Context, tenantID string) ([]*models.QueueItem, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", engine.ErrValidation)
	}
	return s.repo.List(ctx, models.QueueFilter{TenantID: &tenantID})
}

// GetDLQItems lists dead-lettered items. An empty tenantID lists every tenant.
func (s *QueueService) GetDLQItems(ctx context.Context, tenantID string) ([]*models.QueueItem, error) {
	return s.repo.List(ctx, models.QueueFilter{
		TenantID: optionalString(tenantID),
		Statuses: []models.QueueItemStatus{models.QueueItemStatusDeadLettered},
	})
}

// CancelItemsForEntity removes every non-terminal item of an entity. In-flight processor
// calls are not interrupted; their results are discarded.
func (s *QueueService) CancelItemsForEntity(ctx context.Context, entityType models.EntityType, entityID, tenantID string) (int, error) {
	removed, err := s.repo.DeleteWhere(ctx, models.QueueFilter{
		TenantID:   &tenantID,
		EntityType: &entityType,
		EntityID:   &entityID,
		Statuses: []models.QueueItemStatus{
			models.QueueItemStatusPending,
			models.QueueItemStatusProcessing,
			models.QueueItemStatusFailed,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to cancel items: %w", err)
	}
	for _, item := range removed {
		s.notify(models.QueueEventCancelled, item, "")
	}
	return len(removed), nil
}

// ClearQueue removes every item that is neither in flight nor dead-lettered
func (s *QueueService) ClearQueue(ctx context.Context) (int, error) {
	return s.clear(ctx, models.QueueFilter{Statuses: []models.QueueItemStatus{
		models.QueueItemStatusPending,
		models.QueueItemStatusFailed,
		models.QueueItemStatusCompleted,
	}})
}

// ClearDLQ removes every dead-lettered item
func (s *QueueService) ClearDLQ(ctx context.Context) (int, error) {
	return s.clear(ctx, models.QueueFilter{Statuses: []models.QueueItemStatus{models.QueueItemStatusDeadLettered}})
}

// ClearOldItems removes completed and dead-lettered items last updated before the retention window
func (s *QueueService) ClearOldItems(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-retention)
	return s.clear(ctx, models.QueueFilter{
		Statuses:      []models.QueueItemStatus{models.QueueItemStatusCompleted, models.QueueItemStatusDeadLettered},
		UpdatedBefore: &cutoff,
	})
}

func (s *QueueService) clear(ctx context.Context, filter models.QueueFilter) (int, error) {
	removed, err := s.repo.DeleteWhere(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to clear items: %w", err)
	}
	for _, item := range removed {
		s.notify(models.QueueEventCleared, item, "")
	}
	if len(removed) > 0 {
		s.logger.Info("Queue items cleared", logger.Int("count", len(removed)))
	}
	return len(removed), nil
}

// CleanupStaleItems returns items processing for longer than staleAfter to pending without
// counting an attempt. Zero uses the configured StaleAfter.
func (s *QueueService) CleanupStaleItems(ctx context.Context, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		staleAfter = s.Config().StaleAfter
	}
	cutoff := s.now().UTC().Add(-staleAfter)

	stale, err := s.repo.List(ctx, models.QueueFilter{
		Statuses:      []models.QueueItemStatus{models.QueueItemStatusProcessing},
		StartedBefore: &cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list stale items: %w", err)
	}

	reclaimed := 0
	for _, item := range stale {
		if item.ClaimID == nil {
			continue
		}
		claimID := *item.ClaimID
		s.resetToPending(item)

		if err := s.repo.UpdateClaimed(ctx, item, claimID); err != nil {
			if errors.Is(err, models.ErrStaleClaim) || errors.Is(err, models.ErrNotFound) {
				continue
			}
			return reclaimed, fmt.Errorf("failed to reclaim item %s: %w", item.ID, err)
		}

		reclaimed++
		s.logger.Warn("StaleClaim: reclaimed item abandoned in processing",
			logger.String("item_id", item.ID),
			logger.String("claim_id", claimID),
			logger.Duration("stale_after", staleAfter),
		)
		s.notify(models.QueueEventReclaimed, item, "")
	}

	s.metrics.AddStaleReclaimed(reclaimed)
	return reclaimed, nil
}

// GetQueueStats returns depth per status plus lifetime counters of this process
func (s *QueueService) GetQueueStats(ctx context.Context) (*models.QueueStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	stats.TotalEnqueued = s.totalEnqueued.Load()
	stats.TotalProcessed = s.totalProcessed.Load()
	stats.TotalSucceeded = s.totalSucceeded.Load()
	stats.TotalFailed = s.totalFailed.Load()
	stats.TotalDeadLettered = s.totalDeadLettered.Load()
	stats.InFlight = s.InFlight()
	stats.ThroughputPerMinute = float64(s.completionsSince(s.now().Add(-time.Minute)))
	if processed := stats.TotalProcessed; processed > 0 {
		stats.AvgProcessingMs = float64(s.processingNanos.Load()) / float64(processed) / float64(time.Millisecond)
	}

	s.metrics.SetQueueDepth(string(models.QueueItemStatusPending), stats.PendingCount)
	s.metrics.SetQueueDepth(string(models.QueueItemStatusProcessing), stats.ProcessingCount)
	s.metrics.SetQueueDepth(string(models.QueueItemStatusDeadLettered), stats.DLQCount)
	return stats, nil
}

func (s *QueueService) recordCompletion(at time.Time) {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	s.completions = append(s.completions, at)

	cutoff := at.Add(-time.Minute)
	i := 0
	for i < len(s.completions) && s.completions[i].Before(cutoff) {
		i++
	}
	s.completions = s.completions[i:]
}

func (s *QueueService) completionsSince(since time.Time) int {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	n := 0
	for _, t := range s.completions {
		if !t.Before(since) {
			n++
		}
	}
	return n
}

func (s *QueueService) notify(eventType models.QueueEventType, item *models.QueueItem, reason string) {
	s.metrics.RecordQueueEvent(string(eventType), string(item.Action))
	if s.listeners.len() == 0 {
		return
	}
	s.listeners.emit(models.QueueEvent{
		Type:      eventType,
		Item:      *item.Clone(),
		Timestamp: s.now().UTC(),
		Error:     reason,
	})
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func notFoundAsFalse(err error) (bool, error) {
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func transitionAsFalse(err error) (bool, error) {
	if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func staleAsFalse(err error) (bool, error) {
	if errors.Is(err, models.ErrStaleClaim) || errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	return false, err
}
