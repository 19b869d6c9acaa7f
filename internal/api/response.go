// Package api holds the JSON response helpers shared by handlers and
// middleware.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cloo-solutions/recall/internal/domain"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var statusByCode = map[string]int{
	domain.ErrCodeValidation:       http.StatusBadRequest,
	domain.ErrCodeNotFound:         http.StatusNotFound,
	domain.ErrCodeUnauthorized:     http.StatusUnauthorized,
	domain.ErrCodeInvalidOperation: http.StatusConflict,
	domain.ErrCodeCapabilityAbsent: http.StatusServiceUnavailable,
	domain.ErrCodeProviderFailure:  http.StatusBadGateway,
}

// JSON writes data with the given status. A nil data writes headers only.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("write response body", slog.String("error", err.Error()))
	}
}

func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// Decode reads a JSON request body into dst. On failure it writes the
// error response and returns false.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		JSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large", Code: domain.ErrCodeValidation})
	case errors.Is(err, io.EOF):
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: "request body is empty", Code: domain.ErrCodeValidation})
	default:
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: domain.ErrCodeValidation})
	}
	return false
}

// DomainErrorToHTTP maps an error to a status. Anything that is not a
// DomainError is a 500.
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var de *domain.DomainError
	if !errors.As(err, &de) {
		return http.StatusInternalServerError
	}
	if status, ok := statusByCode[de.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HandleError writes err as an ErrorResponse. Messages of errors that are
// not DomainErrors can carry connection details and are replaced by the
// status text.
func HandleError(w http.ResponseWriter, err error) {
	status := DomainErrorToHTTP(err)

	var de *domain.DomainError
	if errors.As(err, &de) {
		JSON(w, status, ErrorResponse{Error: de.Message, Code: de.Code})
		return
	}
	JSON(w, status, ErrorResponse{Error: http.StatusText(status)})
}
