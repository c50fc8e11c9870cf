package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

type accessService interface {
	Access(ctx context.Context, userID int64) (Access, error)
}

type accessContextKey struct{}

// ContextWithAccess stores the resolved profile in ctx.
func ContextWithAccess(ctx context.Context, access Access) context.Context {
	return context.WithValue(ctx, accessContextKey{}, access)
}

// AccessFromContext returns the profile stored by the middleware, if any.
func AccessFromContext(ctx context.Context) (Access, bool) {
	access, ok := ctx.Value(accessContextKey{}).(Access)
	return access, ok
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service accessService
	Logger  *slog.Logger
}

// RequireAny ensures the current user has at least one of the required capabilities.
func (m Middleware) RequireAny(caps ...string) func(http.Handler) http.Handler {
	return m.require(normalize(caps), false)
}

// RequireAll ensures the current user has all required capabilities.
func (m Middleware) RequireAll(caps ...string) func(http.Handler) http.Handler {
	return m.require(normalize(caps), true)
}

// Attach resolves the current user's profile without enforcing anything.
func (m Middleware) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Service != nil {
			if userID := shared.ActorID(r.Context()); userID > 0 {
				if access, err := m.Service.Access(r.Context(), userID); err == nil {
					r = r.WithContext(ContextWithAccess(r.Context(), access))
				} else {
					m.logError("rbac attach", err)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) require(required []string, all bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID := shared.ActorID(r.Context())
			if userID <= 0 || m.Service == nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			access, ok := AccessFromContext(r.Context())
			if !ok || access.UserID != userID {
				var err error
				access, err = m.Service.Access(r.Context(), userID)
				if err != nil {
					m.logError("rbac require", err)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
			}
			if !granted(access, required, all) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAccess(r.Context(), access)))
		})
	}
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}

func granted(access Access, required []string, all bool) bool {
	for _, c := range required {
		ok := access.Can(c)
		if all && !ok {
			return false
		}
		if !all && ok {
			return true
		}
	}
	return all
}

func normalize(caps []string) []string {
	seen := make(map[string]struct{}, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		c = strings.TrimSpace(strings.ToLower(c))
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
