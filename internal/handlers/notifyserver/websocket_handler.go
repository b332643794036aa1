package notifyserver

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"

	"friends-go/internal/auth"
	"friends-go/internal/config"
	"friends-go/internal/middleware"
	ws "friends-go/internal/websocket"
)

// WebSocketHandler 负责处理通知推送的 WebSocket 连接请求。
type WebSocketHandler struct {
	hub       *ws.Hub
	cfg       config.Config
	blacklist auth.TokenBlacklist
	logger    *zap.Logger
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。
func NewWebSocketHandler(hub *ws.Hub, cfg config.Config, blacklist auth.TokenBlacklist, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, cfg: cfg, blacklist: blacklist, logger: logger.Named("ws-handler")}
}

// ServeHTTP authenticates ?token= (or a Bearer header) and upgrades the connection.
// 不允许匿名连接：通知只推送给已认证的用户。
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "bearer") {
			token = rest
		}
	}
	if token == "" {
		middleware.WriteError(w, r, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := auth.ValidateToken(r.Context(), token, h.cfg.Auth, h.blacklist)
	if err != nil {
		h.logger.Debug("websocket token rejected", zap.Error(err))
		middleware.WriteError(w, r, "invalid token", http.StatusUnauthorized)
		return
	}

	h.logger.Info("用户连接通知 WebSocket", zap.Stringer("userId", claims.UserID), zap.String("username", claims.Username))
	ws.ServeWsPerConnection(h.hub, claims.UserID, w, r, h.cfg.WebSocket, h.checkOrigin)
}

// checkOrigin accepts requests without an Origin header and origins listed in the CORS config.
func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := h.cfg.APIServer.CORS.AllowedOrigins
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return true
	}
	if slices.Contains(allowed, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}
