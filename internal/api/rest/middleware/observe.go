package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/davidmoltin/ai-action-queue/pkg/logger"
	"github.com/davidmoltin/ai-action-queue/pkg/metrics"
)

type traceKey struct{}

// requestTrace is filled in by inner middleware so the access log can name the caller
type requestTrace struct {
	tenantID string
	userID   string
}

// Observe logs every request and records HTTP metrics. 5xx responses log at error,
// 4xx at warn, and probes at debug.
func Observe(log *logger.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			trace := &requestTrace{}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				elapsed := time.Since(start)
				route := routePattern(r)
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				m.RecordHTTPRequest(r.Method, route, normalizeStatusCode(status), elapsed)

				fields := []logger.Field{
					logger.String("method", r.Method),
					logger.String("path", r.URL.Path),
					logger.String("route", route),
					logger.Int("status", status),
					logger.Int("bytes", ww.BytesWritten()),
					logger.Duration("duration", elapsed),
					logger.String("request_id", middleware.GetReqID(r.Context())),
				}
				if trace.tenantID != "" {
					fields = append(fields, logger.String("tenant_id", trace.tenantID), logger.String("user_id", trace.userID))
				}

				switch {
				case status >= 500:
					log.Error("HTTP request", fields...)
				case status >= 400:
					log.Warn("HTTP request", fields...)
				case route == "/health" || route == "/ready" || route == "/metrics":
					log.Debug("HTTP request", fields...)
				default:
					log.Info("HTTP request", fields...)
				}
			}()

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), traceKey{}, trace)))
		})
	}
}

// annotate records the authenticated caller on the request's trace, if any
func annotate(ctx context.Context, tenantID, userID string) {
	if trace, ok := ctx.Value(traceKey{}).(*requestTrace); ok {
		trace.tenantID = tenantID
		trace.userID = userID
	}
}

// routePattern keeps ids out of the metrics path label
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func normalizeStatusCode(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return fmt.Sprintf("%d", status)
	}
}
