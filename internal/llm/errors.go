package llm

import (
	"errors"
	"fmt"
)

type ErrUnsupportedProvider struct {
	Provider string
}

func (e ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unsupported LLM provider: %s", e.Provider)
}

// ErrNoContent marks a generation that succeeded at the transport level but
// produced nothing usable.
var ErrNoContent = errors.New("LLM returned no content")

// StatusError is an HTTP-level generation failure.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("LLM request failed: %s", e.Status)
}

// IsRetryable reports whether a generation error is a transient upstream
// condition worth one more attempt.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	switch statusErr.Code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}
