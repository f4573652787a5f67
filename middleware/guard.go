package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/guard"
)

type controllerContextKey struct{}
type clientIDContextKey struct{}

func WithController(ctx context.Context, c *manpower.Controller) context.Context {
	return context.WithValue(ctx, controllerContextKey{}, c)
}

func ControllerFromContext(ctx context.Context) (*manpower.Controller, bool) {
	c, ok := ctx.Value(controllerContextKey{}).(*manpower.Controller)
	return c, ok && c != nil
}

// ClientIDFromContext returns the browsing-context ID set by BrowsingContext.
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDContextKey{}).(string)
	return id
}

// Resolver returns the browsing-context ID and controller behind r. It may set
// cookies on w.
type Resolver func(w http.ResponseWriter, r *http.Request) (string, *manpower.Controller, error)

// BrowsingContext resolves the caller's controller and stores it in the
// request context. Resolution failures answer 503.
func BrowsingContext(resolve Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ctrl, err := resolve(w, r)
			if err != nil {
				logger.Warn("browsing context unavailable", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusServiceUnavailable, "Service unavailable")
				return
			}
			ctx := context.WithValue(WithController(r.Context(), ctrl), clientIDContextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientInfo copies the remote address and user agent into the context. Run it
// after chi's RealIP when behind a proxy.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		ctx := manpower.WithClientIP(r.Context(), ip)
		ctx = manpower.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Guard requires an authenticated browsing context holding perm. An empty perm
// only requires authentication.
func Guard(policy *guard.Policy, perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctrl, ok := ControllerFromContext(r.Context())
			if !ok || policy == nil {
				writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			switch err := policy.Authorize(ctrl.Status(), perm); {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, guard.ErrForbidden):
				writeError(w, http.StatusForbidden, "Forbidden")
			default:
				writeError(w, http.StatusUnauthorized, "Authentication required")
			}
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
