package httpauth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/authz"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by Authenticate.
func ClaimsFromContext(ctx context.Context) (tokenguard.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(tokenguard.Claims)
	return c, ok
}

// WithClaims stores c in ctx.
func WithClaims(ctx context.Context, c tokenguard.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, c)
}

// Authenticate verifies the bearer access token and stores its claims in the
// request context. It never touches the ledger.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			WriteError(w, tokenguard.ErrTokenMalformed)
			return
		}

		claims, err := h.engine.Authenticate(r.Context(), token)
		if err != nil {
			WriteError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireRoles admits callers holding at least one of roles. It must run
// after Authenticate.
func RequireRoles(roles ...authz.Role) func(http.Handler) http.Handler {
	guard := authz.RequireRoles(roles...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteError(w, tokenguard.ErrTokenMalformed)
				return
			}
			if err := authz.Check(guard, claims.AuthzSubject(), authz.Resource{}, authz.OpRead); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ResourceLookup loads the ownership facts of the resource a request
// addresses. It returns tokenguard.ErrNotFound for a missing resource.
type ResourceLookup func(r *http.Request) (authz.Resource, error)

type resourceContextKey struct{}

// ResourceFromContext returns the resource loaded by RequireResource.
func ResourceFromContext(ctx context.Context) (authz.Resource, bool) {
	res, ok := ctx.Value(resourceContextKey{}).(authz.Resource)
	return res, ok
}

// RequireResource loads the resource and evaluates guard for the operation
// implied by the request method. A missing resource is 404 before any guard
// runs; a denial is 403. It must run after Authenticate.
func RequireResource(lookup ResourceLookup, guard authz.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteError(w, tokenguard.ErrTokenMalformed)
				return
			}
			op, ok := OperationFor(r.Method)
			if !ok {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}

			res, err := lookup(r)
			if err != nil {
				if !errors.Is(err, tokenguard.ErrNotFound) && !errors.Is(err, tokenguard.ErrUnavailable) {
					err = errors.Join(tokenguard.ErrUnavailable, err)
				}
				WriteError(w, err)
				return
			}

			if err := authz.Check(guard, claims.AuthzSubject(), res, op); err != nil {
				WriteError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), resourceContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperationFor maps an HTTP method to the guarded operation.
func OperationFor(method string) (authz.Operation, bool) {
	switch method {
	case http.MethodGet, http.MethodHead:
		return authz.OpRead, true
	case http.MethodPost:
		return authz.OpCreate, true
	case http.MethodPut, http.MethodPatch:
		return authz.OpUpdate, true
	case http.MethodDelete:
		return authz.OpDelete, true
	default:
		return 0, false
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
