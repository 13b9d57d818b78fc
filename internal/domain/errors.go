package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// ProviderError carries an upstream rejection verbatim. Submissions failing
// with one are not retried; the message is forwarded onto the job record.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider rejected request (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider rejected request: %s", e.Message)
}
