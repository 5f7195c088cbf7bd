package middleware

import (
	"encoding/json"
	"net/http"
)

// Error codes emitted by middleware, alongside the media taxonomy codes the
// handlers return.
const (
	CodeRateLimited     = "RATE_LIMITED"
	CodeInvalidUpload   = "INVALID_UPLOAD"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeUnsupportedBody = "UNSUPPORTED_MEDIA_TYPE"
)

// errorBody mirrors handlers.ErrorResponse
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	})
}
