package registry

import "errors"

var (
	// ErrMissingType is returned when a stored payload has no "type" field.
	ErrMissingType = errors.New("jobqueue: payload envelope missing type")
	// ErrUnknownJobType is returned when a payload's type tag has no
	// matching Register call.
	ErrUnknownJobType = errors.New("jobqueue: unknown job type")
	// ErrUnregisteredType is returned by Tag when asked to encode a job
	// whose concrete type was never registered.
	ErrUnregisteredType = errors.New("jobqueue: job type not registered")
)
