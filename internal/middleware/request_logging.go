package middleware

import (
	"context"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"go.uber.org/zap"
)

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

// RequestIDKey stores the request id in the request context.
const RequestIDKey contextKey = "requestID"

// RequestID reuses an incoming X-Request-ID or assigns a fresh one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		// 同时写回请求头，访问日志从这里读取
		r.Header.Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), RequestIDKey, id)))
	})
}

// GetRequestIDFromContext returns the id assigned by RequestID.
func GetRequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// AccessLog writes one zap entry per request through gorilla's CustomLoggingHandler.
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	log := logger.Named("http")
	return func(next http.Handler) http.Handler {
		return handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
			fields := []zap.Field{
				zap.String("method", p.Request.Method),
				zap.String("path", p.URL.Path),
				zap.Int("status", p.StatusCode),
				zap.Int("size", p.Size),
				zap.String("request_id", p.Request.Header.Get(RequestIDHeader)),
				zap.String("remote", p.Request.RemoteAddr),
				zap.Duration("duration", time.Since(p.TimeStamp)),
			}
			switch {
			case p.StatusCode >= 500:
				log.Error("request", fields...)
			case p.StatusCode >= 400:
				log.Warn("request", fields...)
			default:
				log.Info("request", fields...)
			}
		})
	}
}

// Recovery turns a handler panic into a 500 and logs the stack.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	log := logger.Named("recovery")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic while serving request",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()))
					WriteError(w, r, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
