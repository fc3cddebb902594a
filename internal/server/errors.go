package server

import (
	"encoding/json"
	"net/http"

	"poe-bridge/internal/wire"
)

// apiError is a request failure reported before any upstream call.
type apiError struct {
	status  int
	typ     string
	code    string
	message string
}

func (e *apiError) Error() string { return e.message }

var (
	errNotConfigured = &apiError{status: http.StatusInternalServerError, typ: "server_error", code: "not_configured", message: "Server not configured."}
	errUnauthorized  = &apiError{status: http.StatusUnauthorized, typ: "authentication_error", code: "invalid_api_key", message: "Unauthorized"}
	errInvalidBody   = &apiError{status: http.StatusBadRequest, typ: "invalid_request_error", code: "invalid_body", message: "Request body is not a valid chat completion request."}
	errNoMessages    = &apiError{status: http.StatusBadRequest, typ: "invalid_request_error", code: "empty_messages", message: "No messages provided."}
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *apiError) {
	if err.status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="poe-bridge"`)
	}
	writeJSON(w, err.status, wire.ErrorResponse{Error: wire.ErrorBody{Message: err.message, Type: err.typ, Code: err.code}})
}
