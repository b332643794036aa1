package apiserver

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"
)

// HealthHandler answers GET /healthz by pinging the database.
type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := h.db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "down", "database": err.Error()})
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "up"})
}
