package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidmoltin/ai-action-queue/internal/api/rest/handlers"
	customMiddleware "github.com/davidmoltin/ai-action-queue/internal/api/rest/middleware"
	"github.com/davidmoltin/ai-action-queue/pkg/auth"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
	"github.com/davidmoltin/ai-action-queue/pkg/metrics"
)

// Options tunes the HTTP surface
type Options struct {
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
	MaxRequestSize int64

	// WebSocket, when set, is mounted at /api/v1/ws behind authentication
	WebSocket http.Handler

	// WebSocketStats, when set, is mounted at /api/v1/admin/ws/stats
	WebSocketStats http.HandlerFunc
}

// Router holds the HTTP router and dependencies
type Router struct {
	router      *chi.Mux
	logger      *logger.Logger
	handlers    *handlers.Handlers
	auth        *customMiddleware.Authenticator
	rateLimiter *customMiddleware.RateLimiter
	metrics     *metrics.Metrics
	websocket   http.Handler
	wsStats     http.HandlerFunc
}

// NewRouter creates a new HTTP router
func NewRouter(log *logger.Logger, h *handlers.Handlers, authn *customMiddleware.Authenticator, m *metrics.Metrics, opts Options) *Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Observe(log, m))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(customMiddleware.SecurityHeaders())
	r.Use(customMiddleware.RequestSizeLimit(opts.MaxRequestSize))

	allowedOrigins := opts.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}

	// Never allow "*" with credentials enabled
	allowCredentials := true
	for _, origin := range allowedOrigins {
		if origin == "*" {
			log.Warn("CORS: Wildcard origin '*' detected with credentials enabled. Disabling credentials for security.")
			allowCredentials = false
			break
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: allowCredentials,
		MaxAge:           300,
	}))

	rps, burst := opts.RateLimit, opts.RateBurst
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}

	return &Router{
		router:      r,
		logger:      log,
		handlers:    h,
		auth:        authn,
		rateLimiter: customMiddleware.NewRateLimiter(rps, burst, log),
		metrics:     m,
		websocket:   opts.WebSocket,
		wsStats:     opts.WebSocketStats,
	}
}

// SetupRoutes configures all API routes
func (r *Router) SetupRoutes() {
	// Prometheus metrics endpoint (no auth required)
	r.router.Handle("/metrics", promhttp.Handler())

	// Health endpoints (no auth required)
	r.router.Get("/health", r.handlers.Health.Health)
	r.router.Get("/ready", r.handlers.Health.Ready)

	perm := func(p ...string) func(http.Handler) http.Handler {
		return customMiddleware.RequirePermission(r.logger, p...)
	}

	r.router.Route("/api/v1", func(router chi.Router) {
		router.Use(customMiddleware.Auth(r.auth))
		router.Use(customMiddleware.RateLimit(r.rateLimiter))

		if r.websocket != nil {
			router.With(perm(auth.PermissionActionsRead)).Handle("/ws", r.websocket)
		}

		// Scheduled actions
		router.Route("/schedules", func(router chi.Router) {
			router.With(perm(auth.PermissionActionsRead)).Get("/", r.handlers.Schedules.ListSchedules)
			router.With(perm(auth.PermissionActionsWrite)).Post("/", r.handlers.Schedules.CreateSchedule)
			router.With(perm(auth.PermissionActionsWrite)).Post("/bulk", r.handlers.Schedules.BulkSchedule)
			router.With(perm(auth.PermissionActionsRead)).Get("/{id}", r.handlers.Schedules.GetSchedule)
			router.With(perm(auth.PermissionActionsWrite)).Delete("/{id}", r.handlers.Schedules.CancelSchedule)
			router.With(perm(auth.PermissionActionsWrite)).Post("/{id}/pause", r.handlers.Schedules.PauseSchedule)
			router.With(perm(auth.PermissionActionsWrite)).Post("/{id}/resume", r.handlers.Schedules.ResumeSchedule)
			router.With(perm(auth.PermissionActionsWrite)).Put("/{id}/timing", r.handlers.Schedules.RescheduleSchedule)
			router.With(perm(auth.PermissionActionsRead)).Get("/{id}/next-runs", r.handlers.Schedules.GetNextRuns)
		})

		// Queue
		router.Route("/queue", func(router chi.Router) {
			router.With(perm(auth.PermissionActionsRead)).Get("/", r.handlers.Queue.ListItems)
			router.With(perm(auth.PermissionActionsWrite)).Post("/", r.handlers.Queue.Enqueue)
			router.With(perm(auth.PermissionActionsWrite)).Post("/batch", r.handlers.Queue.EnqueueBatch)
			router.With(perm(auth.PermissionActionsRead)).Get("/dlq", r.handlers.Queue.ListDLQ)
			router.With(perm(auth.PermissionActionsRead)).Get("/{id}", r.handlers.Queue.GetItem)
			router.With(perm(auth.PermissionActionsWrite)).Post("/{id}/retry", r.handlers.Queue.RetryItem)
			router.With(perm(auth.PermissionActionsWrite)).Post("/{id}/requeue", r.handlers.Queue.RequeueItem)
			router.With(perm(auth.PermissionActionsWrite)).Post("/{id}/prioritize", r.handlers.Queue.PrioritizeItem)
			router.With(perm(auth.PermissionActionsWrite)).Put("/{id}/priority", r.handlers.Queue.UpdatePriority)
		})

		// Entity-wide cancellation
		router.Route("/entities/{entityType}/{entityID}", func(router chi.Router) {
			router.With(perm(auth.PermissionActionsWrite)).Delete("/schedules", r.handlers.Schedules.CancelForEntity)
			router.With(perm(auth.PermissionActionsWrite)).Delete("/queue", r.handlers.Queue.CancelForEntity)
		})

		// Action registry and direct execution
		router.Route("/actions", func(router chi.Router) {
			router.With(perm(auth.PermissionActionsRead)).Get("/", r.handlers.Actions.ListActions)
			router.With(perm(auth.PermissionActionsRead)).Post("/suggestions", r.handlers.Actions.Suggestions)
			router.With(perm(auth.PermissionActionsRead)).Get("/{action}", r.handlers.Actions.GetAction)
			router.With(perm(auth.PermissionActionsRead)).Post("/{action}/validate", r.handlers.Actions.ValidateParams)
			router.With(perm(auth.PermissionActionsRead)).Post("/{action}/approval-check", r.handlers.Actions.CheckApproval)
			router.With(perm(auth.PermissionActionsExecute)).Post("/{action}/execute", r.handlers.Actions.Execute)
		})

		// Audit log
		router.With(perm(auth.PermissionAuditRead, auth.PermissionQueueAdmin)).Get("/audit", r.handlers.Audit.ListAuditLog)

		// Operator endpoints span tenants
		router.Route("/admin", func(router chi.Router) {
			router.Use(perm(auth.PermissionQueueAdmin))

			if r.wsStats != nil {
				router.Get("/ws/stats", r.wsStats)
			}

			router.Route("/queue", func(router chi.Router) {
				router.Get("/stats", r.handlers.Admin.QueueStats)
				router.Post("/process", r.handlers.Admin.ProcessQueue)
				router.Delete("/", r.handlers.Admin.ClearQueue)
				router.Delete("/dlq", r.handlers.Admin.ClearDLQ)
				router.Post("/cleanup", r.handlers.Admin.ClearOldItems)
				router.Post("/reclaim", r.handlers.Admin.ReclaimStale)
				router.Post("/{id}/dlq", r.handlers.Admin.MoveToDLQ)
				router.Get("/config", r.handlers.Admin.GetQueueConfig)
				router.Put("/config", r.handlers.Admin.UpdateQueueConfig)
			})

			router.Route("/scheduler", func(router chi.Router) {
				router.Get("/stats", r.handlers.Admin.SchedulerStats)
				router.Post("/start", r.handlers.Admin.StartScheduler)
				router.Post("/stop", r.handlers.Admin.StopScheduler)
				router.Post("/tick", r.handlers.Admin.Tick)
				router.Post("/cleanup", r.handlers.Admin.CleanupSchedules)
			})
		})
	})
}

// StartRateLimiterCleanup evicts idle per-tenant limiters until ctx is done
func (r *Router) StartRateLimiterCleanup(ctx context.Context, interval time.Duration) {
	go r.rateLimiter.Cleanup(ctx, interval)
}

// Handler returns the http.Handler
func (r *Router) Handler() http.Handler {
	return r.router
}
