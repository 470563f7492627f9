package downloader

import (
	"errors"
	"fmt"
)

var (
	ErrShortStream      = errors.New("stream ended before the length the server announced")
	ErrSizeMismatch     = errors.New("server content is shorter than expected")
	ErrStalled          = errors.New("no data received within read timeout")
	ErrUnexpectedRange  = errors.New("server returned an unexpected content range")
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// TransientError marks an interrupted transfer that can be resumed from the
// partial file.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transfer interrupted: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.StatusCode, e.URL)
}
