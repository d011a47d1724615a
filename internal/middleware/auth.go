package middleware

import (
	"context"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	userHolderKey
	privilegedKey
)

// privilegedRoles are the values of the "role" claim that may write the shared catalog and
// drive the aggregate cache.
var privilegedRoles = map[string]bool{"service": true, "admin": true}

// requestUser lets the request logger see the user resolved further down the chain.
type requestUser struct {
	id string
}

func withUserHolder(ctx context.Context, h *requestUser) context.Context {
	return context.WithValue(ctx, userHolderKey, h)
}

type AuthMiddleware struct {
	jwtSecret []byte
}

func NewAuthMiddleware(secret []byte) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: secret}
}

// RequireAuth verifies an HS256 bearer token issued by the identity provider and puts its
// subject, a user UUID, on the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		tokenStr := strings.TrimPrefix(authz, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return m.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		sub, err := token.Claims.GetSubject()
		if err != nil {
			http.Error(w, "invalid claims", http.StatusUnauthorized)
			return
		}
		userID, err := uuid.Parse(sub)
		if err != nil || userID == uuid.Nil {
			http.Error(w, "invalid subject", http.StatusUnauthorized)
			return
		}
		ctx := WithUserID(r.Context(), userID)
		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if role, _ := claims["role"].(string); privilegedRoles[role] {
				ctx = WithPrivileged(ctx)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePrivileged rejects requests whose token does not carry a service or admin role. It
// must run after RequireAuth.
func RequirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Privileged(r.Context()) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithPrivileged(ctx context.Context) context.Context {
	return context.WithValue(ctx, privilegedKey, true)
}

// Privileged reports whether the caller authenticated with a service or admin role.
func Privileged(ctx context.Context) bool {
	ok, _ := ctx.Value(privilegedKey).(bool)
	return ok
}

func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	if h, ok := ctx.Value(userHolderKey).(*requestUser); ok {
		h.id = id.String()
	}
	return context.WithValue(ctx, userIDKey, id)
}

// UserID returns the authenticated user of the request.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
