package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// UpstreamError is a failed upstream call. Retryable errors are retried with
// backoff inside the same run; the rest fail the page immediately.
type UpstreamError struct {
	Service    string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: status %d: %v", e.Service, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("upstream %s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsForbidden reports whether err is an upstream 403, which adapters use to
// detect a missing optional permission.
func IsForbidden(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusForbidden
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusNotFound
}

// IsClientError reports whether err is a non-retryable 4xx. Such errors are
// caused by the request or its permissions, not by upstream health, so they
// do not count against the circuit breaker.
func IsClientError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && !ue.Retryable && ue.StatusCode >= 400 && ue.StatusCode < 500
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
