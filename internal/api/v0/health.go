package v0

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hanvq/facegallery/internal/api/common"
	"github.com/hanvq/facegallery/internal/logger"
)

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthRouter creates the liveness and readiness routes. Readiness checks
// the catalog database and the cache; liveness checks nothing.
func HealthRouter(db, cache Pinger) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		common.WriteJSONResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	r.Get("/readiness", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			logger.Warnf("Readiness check failed: database unreachable: %v", err)
			common.WriteErrorResponse(w, "Database not ready", http.StatusServiceUnavailable)
			return
		}
		if err := cache.Ping(r.Context()); err != nil {
			logger.Warnf("Readiness check failed: cache unreachable: %v", err)
			common.WriteErrorResponse(w, "Cache not ready", http.StatusServiceUnavailable)
			return
		}
		common.WriteJSONResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
	})

	return r
}
