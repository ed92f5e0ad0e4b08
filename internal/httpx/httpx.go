// Package httpx holds the JSON helpers shared by the kernel's handlers and
// plugin route handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/forgeline/gamekernel/internal/apperr"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the common failure envelope.
type errorBody struct {
	Error   apperr.Kind    `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteError renders err as the failure envelope. Unclassified errors
// surface as internal without leaking their message.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		WriteJSON(w, http.StatusInternalServerError, errorBody{
			Error:   apperr.KindInternal,
			Message: "internal error",
		})
		return
	}
	WriteJSON(w, apperr.HTTPStatus(appErr.Kind), errorBody{
		Error:   appErr.Kind,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

// Decode reads a JSON request body into v, rejecting unknown garbage and
// oversized payloads.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apperr.BadRequest("invalid JSON body").Wrap(err)
	}
	return nil
}
