package apiserver

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"friends-go/internal/middleware"
	"friends-go/internal/services"
)

// writeJSONResponse 是一个辅助函数，用于发送 JSON 响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	middleware.WriteJSON(w, statusCode, data)
}

// writeJSONError 是一个辅助函数，用于发送 JSON 格式的错误响应。
func writeJSONError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	middleware.WriteError(w, r, message, statusCode)
}

// statusForError maps a service error to its HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrSelfRelationship):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidState):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *RelationshipHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		writeJSONError(w, r, "internal server error", status)
		return
	}
	writeJSONError(w, r, err.Error(), status)
}
