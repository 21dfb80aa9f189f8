package jobs

import (
	"errors"
	"fmt"
)

// NetworkError marks a retryable transport failure. Parse failures never
// surface as errors (bad items are skipped at item granularity), and a block
// wall is state on the run rather than an error, so this is the only typed
// error the pipeline inspects.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err wraps a NetworkError anywhere.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
