package mirror

import (
	"errors"
	"fmt"
)

var (
	ErrIncomplete  = errors.New("local copy is incomplete")
	ErrUnsafeEntry = errors.New("entry name escapes the output directory")
)

// ChecksumMismatchError reports a file whose content does not match the
// manifest after a byte-complete transfer.
type ChecksumMismatchError struct {
	Name      string
	Path      string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum for newly downloaded file %s does not match (%s expected %s, got %s)", e.Name, e.Algorithm, e.Expected, e.Actual)
}
