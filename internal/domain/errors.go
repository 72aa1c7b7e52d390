package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Use errors.Is against these to classify failures.
var (
	ErrTimeout         = errors.New("upstream timeout")
	ErrNetwork         = errors.New("upstream unreachable")
	ErrHTTP            = errors.New("upstream returned non-2xx status")
	ErrMalformed       = errors.New("malformed upstream data")
	ErrMissingMetadata = errors.New("station metadata unavailable")
)

// FetchError describes a failed upstream request.
type FetchError struct {
	Kind       error // one of ErrTimeout, ErrNetwork, ErrHTTP, ErrMalformed
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("GET %s: %v: status %d", e.URL, e.Kind, e.StatusCode)
	case e.Err != nil && errors.Is(e.Err, e.Kind):
		return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("GET %s: %v: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("GET %s: %v", e.URL, e.Kind)
	}
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ErrorKind returns a short label for metrics and logs: "timeout", "network",
// "http", "malformed", "missing_metadata" or "other".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrHTTP):
		return "http"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrMissingMetadata):
		return "missing_metadata"
	default:
		return "other"
	}
}
