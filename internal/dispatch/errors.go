package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// NetworkError reports a failed round trip to the agent: the connection
// failed, the context ended, or the agent answered with a non-2xx status.
type NetworkError struct {
	URL        string
	StatusCode int    // 0 when no response was received
	Body       string // truncated response body, if any
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("agent %s returned HTTP %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("agent %s unreachable: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError reports a response body that is not a JSON array of reply
// objects carrying a "text" field.
type DecodeError struct {
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode agent reply: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsRetryable reports whether resubmitting the same message could succeed.
// Cancellation, malformed replies and 4xx statuses are not retryable.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var nerr *NetworkError
	if !errors.As(err, &nerr) {
		return false
	}
	return nerr.StatusCode == 0 || nerr.StatusCode >= 500 || nerr.StatusCode == 429
}
