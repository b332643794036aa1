package middleware

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorResponse is the JSON body of every error answer.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
}

// WriteJSON 发送 JSON 响应。
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		// 头部已发送，编码失败时无法再返回错误
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError 发送 JSON 格式的错误响应。
func WriteError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:     message,
		Timestamp: time.Now().UTC(),
		Path:      r.URL.Path,
	})
}
