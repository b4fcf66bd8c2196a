package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/tutoreval/internal/api/response"
)

// Pinger is any dependency with a liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler reports each named dependency as ok or degraded and
// answers 503 when any is degraded. Nil dependencies are skipped.
func NewHealthHandler(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(deps))
		degraded := false
		for name, p := range deps {
			if p == nil {
				continue
			}
			checks[name] = "ok"
			if err := p.Ping(r.Context()); err != nil {
				checks[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}
		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
