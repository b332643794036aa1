package apiserver

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"friends-go/internal/auth"
	"friends-go/internal/config"
	"friends-go/internal/middleware"
)

// RouterDeps collects what the API router needs.
type RouterDeps struct {
	Config      config.Config
	Relations   *RelationshipHandler
	Health      http.Handler
	Blacklist   auth.TokenBlacklist
	RateLimiter *middleware.RateLimiter // nil disables limiting
	Logger      *zap.Logger
}

// NewRouter builds the full HTTP handler of the API server.
func NewRouter(d RouterDeps) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Recovery(d.Logger))
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSONError(w, req, "not found", http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSONError(w, req, "method not allowed", http.StatusMethodNotAllowed)
	})

	if d.Health != nil {
		r.Handle("/healthz", d.Health).Methods(http.MethodGet)
	}

	friends := r.PathPrefix("/api/v1/friends").Subrouter()
	friends.Use(middleware.AuthMiddleware(d.Config.Auth, d.Blacklist, d.Logger))
	d.Relations.RegisterRoutes(friends)

	cors := d.Config.APIServer.CORS
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cors.AllowedOrigins),
		handlers.AllowedMethods(cors.AllowedMethods),
		handlers.AllowedHeaders(cors.AllowedHeaders),
		handlers.ExposedHeaders(cors.ExposedHeaders),
		handlers.MaxAge(cors.MaxAge),
	}
	if cors.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}

	// 访问日志在最外层，CORS 预检也会被记录
	var h http.Handler = handlers.CORS(corsOptions...)(r)
	h = middleware.AccessLog(d.Logger)(h)
	return handlers.ProxyHeaders(h)
}
