package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nextconvert/fxengine/internal/modules/media"
)

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Message: message})
}

// writeMediaError maps a media or effects error onto an HTTP status
func writeMediaError(w http.ResponseWriter, err error) {
	code := media.Code(err)
	writeError(w, statusFor(code), code, err.Error())
}

func statusFor(code string) int {
	switch code {
	case media.CodeInvalidFilter, media.CodeUnknownEffect, media.CodeTypeMismatch, media.CodeInvalidRequest:
		return http.StatusBadRequest
	case media.CodeFileNotFound:
		return http.StatusNotFound
	case media.CodeProbeFailure:
		return http.StatusUnprocessableEntity
	case media.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return errEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
