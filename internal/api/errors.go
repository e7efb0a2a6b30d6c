package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/pnl-engine/internal/errors"
	"github.com/pnl-engine/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondCategorized maps a categorized error onto the wire. Internal detail
// stays in the logs; the client sees the category's status and code.
func respondCategorized(w http.ResponseWriter, err error) {
	catErr := apperrors.Categorize(err)

	message := catErr.Message
	if catErr.StatusCode >= http.StatusInternalServerError {
		message = "An internal error occurred"
	}

	respondError(w, catErr.StatusCode, catErr.Code, message, nil)
}
