package middleware

import (
	"net/http"

	"github.com/rpattn/mora/internal/entityloader"
	"github.com/rpattn/mora/internal/repository"
)

// DataLoaderMiddleware attaches a fresh entity loader to every request context.
// auditLog may be nil to disable access logging.
func DataLoaderMiddleware(repo repository.ObjectRepository, auditLog repository.AuditLogRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := entityloader.NewEntityLoader(repo, auditLog)
			ctx := entityloader.WithEntityLoader(r.Context(), loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
