package jobqueue

import (
	"errors"
	"fmt"

	"github.com/kirezdev/jobqueue/dialect"
	"github.com/kirezdev/jobqueue/registry"
)

// ErrUnsupportedURL is returned when a connection string's scheme names
// neither postgres nor mysql.
var ErrUnsupportedURL = dialect.ErrUnsupportedURL

// ErrMissingType is returned when a stored payload has no type discriminator.
var ErrMissingType = registry.ErrMissingType

// ErrUnknownJobType is returned when a payload's type tag has no matching
// registration — in the runner this is treated as a job failure (§4.6),
// not a fatal process error.
var ErrUnknownJobType = registry.ErrUnknownJobType

// ErrTimeout indicates a job's Handle call ran past its Timeout().
var ErrTimeout = errors.New("jobqueue: job timed out")

// ErrPanic wraps a recovered panic value from inside a job's Handle call.
var ErrPanic = errors.New("jobqueue: job panicked")

// ErrDatabase wraps a failure from the underlying driver.
var ErrDatabase = errors.New("jobqueue: database error")

// wrapPanic wraps a recovered panic value together with the stack trace
// captured at the point of recovery, so the caller doesn't lose where the
// panic actually happened once it's reduced to an error. stack is normally
// the output of runtime/debug.Stack() called inside the same deferred
// function that recovered.
func wrapPanic(recovered interface{}, stack []byte) error {
	return fmt.Errorf("%w: %v\n%s", ErrPanic, recovered, stack)
}

func wrapDatabase(err error) error {
	return fmt.Errorf("%w: %v", ErrDatabase, err)
}
