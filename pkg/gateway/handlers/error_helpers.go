package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/scholar-lite/pkg/core"
	"github.com/vango-go/scholar-lite/pkg/gateway/apierror"
	"github.com/vango-go/scholar-lite/pkg/gateway/mw"
)

func writeCoreErrorJSON(w http.ResponseWriter, reqID string, coreErr *core.Error, status int) {
	if coreErr != nil && coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: coreErr})
}

// writeErr maps err through apierror and logs anything that is not the
// caller's fault.
func writeErr(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	reqID := requestIDFromContext(r.Context())
	coreErr, status := apierror.FromError(err, reqID)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Warn("request failed", "request_id", reqID, "path", r.URL.Path, "status", status, "error", err)
	}
	writeCoreErrorJSON(w, reqID, coreErr, status)
}

// genericProviderError hides upstream detail behind a user-facing message.
// Errors other than provider errors pass through unchanged.
func genericProviderError(r *http.Request, logger *slog.Logger, err error, message string) error {
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr == nil || coreErr.Type != core.ErrProvider {
		return err
	}
	if logger != nil {
		logger.Warn("provider call failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	return (&core.Error{Type: core.ErrProvider, Message: message}).WithCause(err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	reqID := requestIDFromContext(r.Context())
	w.Header().Set("Allow", allow)
	writeCoreErrorJSON(w, reqID, &core.Error{
		Type:    core.ErrInvalidRequest,
		Message: "method not allowed",
		Code:    "method_not_allowed",
	}, http.StatusMethodNotAllowed)
}

// decodeJSONBody reads exactly one JSON object of at most maxBytes into v.
// Unknown fields are rejected.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return err
		case errors.Is(err, io.EOF):
			return &apierror.DecodeError{Message: "request body is empty", Err: err}
		case errors.Is(err, io.ErrUnexpectedEOF):
			return &apierror.DecodeError{Message: "invalid JSON body", Err: err}
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
			return &apierror.DecodeError{Param: field, Message: "unknown field", Err: err}
		default:
			return err
		}
	}
	if dec.More() {
		return &apierror.DecodeError{Message: "request body must contain a single JSON object"}
	}
	return nil
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}

// withHandlerTimeout bounds a unary provider call. A zero timeout leaves ctx as is.
func withHandlerTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
