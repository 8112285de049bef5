package monitor

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrLocaleNotVerified is fatal for a whole country: no search is attempted.
	ErrLocaleNotVerified = errors.New("monitor: delivery location could not be verified")
	// ErrInterstitial aborts the remaining pages of the current query.
	ErrInterstitial = errors.New("monitor: verification interstitial detected")
	// ErrRateLimited and ErrTransient are retried at the page-load step.
	ErrRateLimited = errors.New("monitor: rate limited")
	ErrTransient   = errors.New("monitor: transient page load failure")
	// ErrRetriesExhausted wraps the last transient error once backoff gives up.
	ErrRetriesExhausted   = errors.New("monitor: page load retries exhausted")
	ErrMalformedSlot      = errors.New("monitor: malformed slot")
	ErrNoInputSurface     = errors.New("monitor: no location input found")
	ErrUnsupportedCountry = errors.New("monitor: unsupported marketplace")
	ErrSessionOpen        = errors.New("monitor: session could not be opened")
	ErrNotResolved        = errors.New("monitor: request was not processed")
	// ErrInvalidRequest rejects a batch before any search starts.
	ErrInvalidRequest = errors.New("monitor: invalid monitoring request")
)

// PageError attaches the page number to a query-scope failure.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying at the page-load step.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}

// Classify maps an error onto the scope it affects. The result is used as a
// log attribute and metric label.
func Classify(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrLocaleNotVerified):
		return "locale"
	case errors.Is(err, ErrUnsupportedCountry):
		return "unsupported"
	case errors.Is(err, ErrSessionOpen):
		return "session"
	case errors.Is(err, ErrInterstitial):
		return "interstitial"
	case errors.Is(err, ErrRetriesExhausted), IsTransient(err):
		return "transient"
	case errors.Is(err, ErrMalformedSlot):
		return "slot"
	case errors.Is(err, ErrNotResolved):
		return "unresolved"
	case errors.Is(err, ErrInvalidRequest):
		return "request"
	default:
		return "query"
	}
}
