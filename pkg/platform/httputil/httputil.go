// Package httputil holds shared helpers for JSON transport: response
// writing, domain-error mapping, and request decoding. Handlers stay thin
// and all error shapes stay uniform across endpoints.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"aegis/pkg/domerrors"
)

// errorResponse is the uniform error body: a stable machine code plus an
// optional human-readable description.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON serializes v with the given status. Encoding failures are
// ignored at this point; the status line has already been committed.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to an HTTP status and uniform body.
// Non-domain errors become opaque 500s so internals never leak.
func WriteError(w http.ResponseWriter, err error) {
	code := domerrors.CodeOf(err)
	status, ok := statusFor(code)
	if !ok {
		WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}

	resp := errorResponse{Error: string(code)}
	var de *domerrors.Error
	if errors.As(err, &de) {
		resp.ErrorDescription = de.Message
	}
	WriteJSON(w, status, resp)
}

func statusFor(code domerrors.Code) (int, bool) {
	switch code {
	case domerrors.CodeInvalidInput, domerrors.CodeIllegalTransition:
		return http.StatusBadRequest, true
	case domerrors.CodeUnauthorized:
		return http.StatusUnauthorized, true
	case domerrors.CodeInsufficientRights, domerrors.CodeBlastRadius:
		return http.StatusForbidden, true
	case domerrors.CodeNotFound:
		return http.StatusNotFound, true
	case domerrors.CodeConflict:
		return http.StatusConflict, true
	case domerrors.CodeExpired:
		return http.StatusGone, true
	case domerrors.CodeUnavailable:
		return http.StatusServiceUnavailable, true
	}
	return 0, false
}

// DecodeAndPrepare decodes the JSON body into T and writes a uniform
// invalid_input response on failure. The bool result tells the handler
// whether to continue.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "malformed request body",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, domerrors.New(domerrors.CodeInvalidInput, "malformed JSON body"))
		return req, false
	}
	return req, true
}
