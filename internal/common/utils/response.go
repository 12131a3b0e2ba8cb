// internal/common/utils/response.go
// Standardized API responses ensure consistency across all endpoints

package utils

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/imadgeboyega/kiekky-chat/internal/common/apperr"
)

// Response is the standard API response structure
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	ErrorID string      `json:"error_id,omitempty"`
}

// SuccessResponse sends a successful response
func SuccessResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	writeJSON(w, statusCode, Response{
		Success: true,
		Data:    data,
	})
}

// ErrorResponse sends an error response
func ErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, Response{
		Success: false,
		Error:   message,
	})
}

// MessageResponse sends a simple message response
func MessageResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, Response{
		Success: true,
		Message: message,
	})
}

// AppErrorResponse maps a domain error to its status code. The response
// carries a correlation id that matches the server log line; the cause
// itself is never sent to the client.
func AppErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	errorID := uuid.NewString()
	status := apperr.HTTPStatus(err)

	if status >= http.StatusInternalServerError {
		log.Printf("❌ [%s] %s %s: %v", errorID, r.Method, r.URL.Path, err)
	} else {
		log.Printf("⚠️  [%s] %s %s rejected (%s): %v", errorID, r.Method, r.URL.Path, apperr.KindOf(err), err)
	}

	writeJSON(w, status, Response{
		Success: false,
		Error:   apperr.PublicMessage(err),
		ErrorID: errorID,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
