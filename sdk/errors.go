package scholar

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/vango-go/scholar-lite/pkg/core"
)

// Error is the canonical gateway error.
type Error = core.Error

const (
	ErrInvalidRequest = core.ErrInvalidRequest
	ErrPermission     = core.ErrPermission
	ErrNotFound       = core.ErrNotFound
	ErrAPI            = core.ErrAPI
	ErrOverloaded     = core.ErrOverloaded
	ErrProvider       = core.ErrProvider
)

// TransportError represents HTTP transport-level failures (DNS, timeouts,
// connection reset, TLS handshake, etc.) while talking to the gateway.
//
// Use errors.As(err, &TransportError{}) to distinguish transport failures
// from canonical API errors (*core.Error).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}

func decodeGatewayErrorResponse(resp *http.Response, endpoint, method string) error {
	requestID := resp.Header.Get("X-Request-ID")
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransportError{Op: method, URL: endpoint, Err: err}
	}

	var env struct {
		Error *core.Error `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		if env.Error.RequestID == "" {
			env.Error.RequestID = requestID
		}
		if env.Error.Type == "" {
			env.Error.Type = inferErrorType(resp.StatusCode)
		}
		if env.Error.Message == "" {
			env.Error.Message = http.StatusText(resp.StatusCode)
		}
		return env.Error
	}

	return &core.Error{
		Type:      inferErrorType(resp.StatusCode),
		Message:   fmt.Sprintf("gateway request failed with status %d", resp.StatusCode),
		RequestID: requestID,
	}
}

func inferErrorType(statusCode int) core.ErrorType {
	switch statusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusMethodNotAllowed:
		return core.ErrInvalidRequest
	case http.StatusForbidden:
		return core.ErrPermission
	case http.StatusNotFound:
		return core.ErrNotFound
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, 529:
		return core.ErrOverloaded
	case http.StatusBadGateway:
		return core.ErrProvider
	default:
		return core.ErrAPI
	}
}

// liveCloseError turns a gateway error frame into a canonical error.
func liveCloseError(code, message string) *core.Error {
	typ := core.ErrAPI
	switch code {
	case "bad_request", "unsupported", "unsupported_version", "too_large":
		typ = core.ErrInvalidRequest
	case "overloaded", "draining":
		typ = core.ErrOverloaded
	case "provider_error":
		typ = core.ErrProvider
	}
	return &core.Error{Type: typ, Message: message, Code: code}
}
