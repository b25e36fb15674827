package middleware

import (
	"net/http"
	"strings"

	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// RequirePermission rejects callers that hold none of perms. Unauthenticated
// requests get 401 and authenticated ones without a grant get 403.
func RequirePermission(log *logger.Logger, perms ...string) func(next http.Handler) http.Handler {
	required := strings.Join(perms, "|")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				respondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			for _, p := range perms {
				if claims.HasPermission(p) {
					next.ServeHTTP(w, r)
					return
				}
			}

			log.Warn("Permission denied",
				logger.String("tenant_id", claims.TenantID),
				logger.String("user_id", claims.UserID),
				logger.String("route", routePattern(r)),
				logger.String("required_permission", required),
			)
			respondError(w, http.StatusForbidden, "Insufficient permissions: requires "+required)
		})
	}
}
