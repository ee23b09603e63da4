package providers

import (
	"errors"
	"fmt"
)

// ErrDegraded marks responses served from stale cache after an upstream
// failure. The decoded data is still usable.
var ErrDegraded = errors.New("provider degraded")

// ErrDisabled is returned for providers switched off in configuration.
var ErrDisabled = errors.New("provider disabled")

// UpstreamError is a non-2xx response from a provider API.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Snippet    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Snippet)
}

// RateLimited reports whether the upstream rejected the call for quota
// reasons.
func (e *UpstreamError) RateLimited() bool {
	return e.StatusCode == 429
}
