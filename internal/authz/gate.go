package authz

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
)

// CheckRecorder receives the outcome of every gate decision, typically
// backed by a Prometheus counter.
type CheckRecorder interface {
	RecordPermissionCheck(decision string)
}

// Gate is the single authorization primitive the rest of the
// application goes through. Requirements are all-of: every listed
// feature must be granted. Gates compose by middleware nesting, which
// intersects requirements naturally.
type Gate struct {
	Logger   *slog.Logger
	Recorder CheckRecorder
}

// Require returns chi-style middleware that admits the request only
// when the session grants every listed feature. Denied requests get a
// 403 problem response.
func (g Gate) Require(features ...Feature) func(http.Handler) http.Handler {
	return g.RequireWithFallback(nil, features...)
}

// RequireWithFallback behaves like Require but renders the fallback
// handler when denied instead of the default 403 problem.
func (g Gate) RequireWithFallback(fallback http.Handler, features ...Feature) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.allowed(r.Context(), features...) {
				g.record("allow")
				next.ServeHTTP(w, r)
				return
			}
			g.record("deny")
			if g.Logger != nil {
				g.Logger.Info("gate denied", slog.String("path", r.URL.Path), slog.Any("required", features))
			}
			if fallback != nil {
				fallback.ServeHTTP(w, r)
				return
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

// Check is the defense-in-depth variant: mutating handlers call it
// again before acting, so a handler reached around the middleware (or
// through a race with a concurrent permission edit) still refuses.
func (g Gate) Check(ctx context.Context, features ...Feature) error {
	if g.allowed(ctx, features...) {
		g.record("allow")
		return nil
	}
	g.record("deny")
	return fmt.Errorf("%w: missing required feature", httpx.ErrForbidden)
}

func (g Gate) allowed(ctx context.Context, features ...Feature) bool {
	if len(features) == 0 {
		return true
	}
	resolver := ResolverFromContext(ctx)
	if resolver == nil {
		return false
	}
	return resolver.CanAll(features...)
}

func (g Gate) record(decision string) {
	if g.Recorder != nil {
		g.Recorder.RecordPermissionCheck(decision)
	}
}
