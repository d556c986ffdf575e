package buffer

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")
	ErrStorageFailure    = errors.New("storage failure")
)

// tag marks cause with one of the sentinel kinds above so that errors.Is
// matches both the kind and the underlying error.
func tag(kind, cause error) error {
	return fmt.Errorf("%w: %w", kind, cause)
}
