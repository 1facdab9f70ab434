package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/coinfolio/backend/internal/errors"
	"github.com/coinfolio/backend/internal/logger"
)

type contextKey string

const UserContextKey contextKey = "user"

const DefaultCookieName = "coinfolio_session"

// UserContext is the verified identity attached to a request
type UserContext struct {
	UserID    uuid.UUID
	Email     string
	Username  string
	SessionID uuid.UUID
	ExpiresAt time.Time
}

// TokenFromRequest extracts the presented credential. A bearer header takes
// precedence over the session cookie. malformed is true when an
// Authorization header is present but is not a usable bearer token.
func TokenFromRequest(r *http.Request, cookieName string) (token string, malformed bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", true
		}
		return strings.TrimSpace(parts[1]), false
	}

	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, false
	}
	return "", false
}

// Middleware rejects requests without a valid session: no credential is
// 401 AUTH_REQUIRED, anything presented but not accepted is 403
// AUTH_INVALID.
func Middleware(authService *Service, cookieName string) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	log := logger.Default().WithComponent("auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := apperrors.GetRequestID(r.Context())

			token, malformed := TokenFromRequest(r, cookieName)
			if token == "" && !malformed {
				apperrors.WriteError(w, requestID, apperrors.AuthRequired())
				return
			}
			if malformed {
				apperrors.WriteError(w, requestID, apperrors.AuthInvalid())
				return
			}

			userCtx, err := authService.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, ErrUnauthenticated) {
					apperrors.WriteError(w, requestID, apperrors.AuthInvalid())
					return
				}
				log.Error(r.Context(), "session verification failed", nil, err)
				apperrors.WriteError(w, requestID, apperrors.DatabaseError("failed to verify session").WithCause(err))
				return
			}

			ctx := WithUser(r.Context(), userCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

func GetUserFromContext(ctx context.Context) *UserContext {
	user, ok := ctx.Value(UserContextKey).(*UserContext)
	if !ok {
		return nil
	}
	return user
}

// RequireUser returns the request's identity or AUTH_REQUIRED
func RequireUser(r *http.Request) (*UserContext, error) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		return nil, apperrors.AuthRequired()
	}
	return user, nil
}
