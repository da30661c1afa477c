package handler

// Every JSON error from the API has the same shape:
//   {"error": "not_found", "message": "problem not found with id abc123"}

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/apperror"
)

// maxJSONBody caps request bodies on the JSON endpoints.
const maxJSONBody = 1 << 20

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON sets headers and status before the body; anything set after
// the first write is ignored by net/http.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain error to its HTTP status and error code.
// Anything that is not an *apperror.AppError is an internal error.
func errorStatus(err error) (int, string, string) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, "internal_error", "An internal error occurred"
	}

	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error", appErr.Message
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", appErr.Message
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden", appErr.Message
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found", appErr.Message
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict", appErr.Message
	}
	return http.StatusInternalServerError, "internal_error", "An internal error occurred"
}

// writeError never exposes the text of an unexpected error; it may carry
// SQL or file paths. The caller logs it.
func writeError(w http.ResponseWriter, err error) {
	status, code, message := errorStatus(err)
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// decodeJSON reads a single JSON object into dst. A malformed body is a
// validation error so it maps to 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return nil
}

// logIfInternal logs errors that would surface as a 500.
func logIfInternal(logger *slog.Logger, msg string, err error) {
	if status, _, _ := errorStatus(err); status == http.StatusInternalServerError {
		logger.Error(msg, slog.String("error", err.Error()))
	}
}
