package myMiddleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/log"
	"go-realtime-chat/internal/respond"
)

type contextKey string

const identityKey contextKey = "identity"

const RoleAdmin = "admin"

// Identity is the authenticated principal carried on a request.
type Identity struct {
	UserID   int64
	Username string
	Role     string
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// TokenValidator decouples the middleware from the user package.
type TokenValidator interface {
	ValidateToken(tokenString string) (Identity, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// TokenFromRequest reads a bearer token from the Authorization header,
// falling back to the ?token= query parameter used by browser websockets.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := TokenFromRequest(r)
		if tokenString == "" {
			respond.Error(w, r, fmt.Errorf("%w: missing authentication token", apperr.ErrAuth))
			return
		}

		id, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			respond.Error(w, r, fmt.Errorf("%w: invalid token", apperr.ErrAuth))
			return
		}

		ctx := WithIdentity(r.Context(), id)
		l := log.Ctx(ctx).With().Int64(log.FieldUserID, id.UserID).Logger()
		ctx = log.WithLogger(ctx, l)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects requests whose identity lacks the admin role.
// It must run after Handle.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			respond.Error(w, r, apperr.ErrAuth)
			return
		}
		if !id.IsAdmin() {
			respond.Error(w, r, fmt.Errorf("%w: admin role required", apperr.ErrAuthorization))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
