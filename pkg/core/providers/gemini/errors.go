package gemini

import (
	"errors"
	"net/http"

	"google.golang.org/genai"

	"github.com/vango-go/scholar-lite/pkg/core"
)

// wrapError maps SDK failures onto core errors. Status-bearing API errors keep
// their category; everything else is a provider error.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return coreErr
	}
	out := core.NewProviderError(providerName, err)

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return out
	}
	out.Code = apiErr.Status
	out.ProviderError = apiErr
	if apiErr.Message != "" {
		out.Message = providerName + ": " + apiErr.Message
	}
	switch {
	case apiErr.Status == "INVALID_ARGUMENT" || apiErr.Status == "FAILED_PRECONDITION":
		out.Type = core.ErrInvalidRequest
	case apiErr.Status == "PERMISSION_DENIED" || apiErr.Status == "UNAUTHENTICATED" ||
		apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		out.Type = core.ErrPermission
	case apiErr.Status == "NOT_FOUND" || apiErr.Code == http.StatusNotFound:
		out.Type = core.ErrNotFound
	case apiErr.Status == "RESOURCE_EXHAUSTED" || apiErr.Status == "UNAVAILABLE" ||
		apiErr.Code == http.StatusTooManyRequests || apiErr.Code == http.StatusServiceUnavailable:
		out.Type = core.ErrOverloaded
	}
	return out
}
