package provider

import (
	"fmt"
	"net/http"

	"github.com/kadirpekel/ragflow/internal/apperr"
)

// ClassifyHTTPStatus maps an HTTP response status to the provider
// error kinds. Shared by every REST-based embedding/chat adapter so the
// retry and error-surfacing policy is consistent across providers.
func ClassifyHTTPStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &apperr.ProviderError{Kind: apperr.KindAuth, Err: fmt.Errorf("status %d: %s", status, body)}
	case status == http.StatusNotFound:
		return &apperr.ProviderError{Kind: apperr.KindModelNotFound, Err: fmt.Errorf("status %d: %s", status, body)}
	case status == http.StatusTooManyRequests:
		return &apperr.ProviderError{Kind: apperr.KindRateLimited, Err: fmt.Errorf("status %d: %s", status, body)}
	case status >= 500:
		return &apperr.ProviderError{Kind: apperr.KindTransient, Err: fmt.Errorf("status %d: %s", status, body)}
	default:
		return &apperr.ProviderError{Kind: apperr.KindPermanent, Err: fmt.Errorf("status %d: %s", status, body)}
	}
}
