package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"friends-go/internal/accounts"
	"friends-go/internal/auth"
	"friends-go/internal/config"
)

// contextKey 是用于在 context.Context 中存储值的自定义类型，以避免键冲突。
type contextKey string

// UserIDKey 是用于在上下文中存储用户ID的键。
const UserIDKey contextKey = "userID"

// UsernameKey 是用于在上下文中存储用户名的键。
const UsernameKey contextKey = "username"

// AuthMiddleware 验证 Bearer JWT，并将用户信息写入请求上下文。
// The raw Authorization header is forwarded to account lookups made on behalf of the caller.
func AuthMiddleware(authCfg config.AuthConfig, blacklist auth.TokenBlacklist, logger *zap.Logger) mux.MiddlewareFunc {
	log := logger.Named("auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteError(w, r, "missing bearer token", http.StatusUnauthorized)
				return
			}

			scheme, token, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
				WriteError(w, r, "malformed authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := auth.ValidateToken(r.Context(), token, authCfg, blacklist)
			if err != nil {
				if errors.Is(err, auth.ErrTokenRevoked) {
					log.Info("revoked token presented", zap.String("path", r.URL.Path))
				} else {
					log.Debug("token rejected", zap.Error(err))
				}
				WriteError(w, r, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, UsernameKey, claims.Username)
			ctx = accounts.WithAuthorization(ctx, authHeader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserIDFromContext 从上下文中获取用户ID。
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok && userID != uuid.Nil
}

// GetUsernameFromContext 从上下文中获取用户名。
func GetUsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok
}
