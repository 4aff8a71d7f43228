// Package registry maps job payloads to Go types by a string discriminator,
// the same role Rust's typetag::serde tag plays in the original
// implementation this module is modeled on: every dispatched job is wrapped
// in an envelope carrying its registered type name, so a worker that only
// knows the queue's wire format can still reconstruct the concrete job and
// call its Handle method.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Job is the minimum interface a dispatched unit of work must satisfy.
type Job interface {
	Handle(ctx context.Context) error
}

// Queuer lets a job pick its own default queue instead of "default".
type Queuer interface {
	Queue() string
}

// Trier caps how many total attempts a job gets before it is dead-lettered.
// Jobs that don't implement it get DefaultTries attempts.
type Trier interface {
	Tries() int
}

// Timeouter caps how long a single attempt may run before it's treated as a
// failure. Jobs that don't implement it get DefaultTimeout.
type Timeouter interface {
	Timeout() time.Duration
}

// Backoffer computes the delay before the next retry, given the attempt
// number that just failed (1-indexed). Jobs that don't implement it get
// DefaultBackoff's exponential schedule.
type Backoffer interface {
	Backoff(attempt int) time.Duration
}

// Failer is notified when an attempt fails, before the retry/dead-letter
// decision is made. Errors returned from Failed are logged but never change
// the retry decision.
type Failer interface {
	Failed(ctx context.Context, cause error) error
}

const (
	// DefaultTries is how many total attempts a job gets when it doesn't
	// implement Trier.
	DefaultTries = 1
	// DefaultTimeout is how long a single attempt may run when the job
	// doesn't implement Timeouter.
	DefaultTimeout = 300 * time.Second
	// DefaultQueue is the queue name used when a job doesn't implement
	// Queuer and the caller doesn't override it.
	DefaultQueue = "default"
)

// DefaultBackoff returns an exponential schedule (2^attempt seconds) for
// jobs that don't implement Backoffer.
func DefaultBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// envelope is the wire format stored in jobs.payload: a type tag plus the
// job's own JSON encoding, analogous to typetag::serde's internal
// representation.
type envelope struct {
	Type string          `json:"type"`
	Job  json.RawMessage `json:"job"`
}

// Registry decodes payload envelopes back into concrete Job values by their
// registered type tag, and encodes Job values into envelopes for dispatch.
type Registry struct {
	types map[string]reflect.Type
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{types: make(map[string]reflect.Type)}
}

// Register associates tag with the concrete type of job. job must be a
// pointer to a struct; Decode allocates a new zero value of the same type
// for every envelope carrying this tag. Registering the same tag twice
// panics, since it almost always indicates two job types accidentally
// sharing a name.
func (r *Registry) Register(tag string, job Job) {
	t := reflect.TypeOf(job)
	if t == nil || t.Kind() != reflect.Ptr {
		panic(fmt.Sprintf("registry: Register(%q): job must be a non-nil pointer", tag))
	}
	if _, exists := r.types[tag]; exists {
		panic(fmt.Sprintf("registry: tag %q already registered", tag))
	}
	r.types[tag] = t.Elem()
}

// Tag returns the registered type tag for job, suitable for Encode. It
// matches by concrete type, so job need not be the exact pointer passed to
// Register.
func (r *Registry) Tag(job Job) (string, error) {
	t := reflect.TypeOf(job)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	for tag, registered := range r.types {
		if registered == t {
			return tag, nil
		}
	}
	return "", fmt.Errorf("%w: %T", ErrUnregisteredType, job)
}

// Encode wraps job in its envelope and marshals it, ready to store in
// jobs.payload.
func (r *Registry) Encode(job Job) (string, error) {
	tag, err := r.Tag(job)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("jobqueue: encode job: %w", err)
	}
	env := envelope{Type: tag, Job: body}
	out, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("jobqueue: encode envelope: %w", err)
	}
	return string(out), nil
}

// Decode reverses Encode: it reads the envelope's type tag, allocates a
// fresh value of the registered Go type, and unmarshals the inner payload
// into it.
func (r *Registry) Decode(payload string) (Job, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("jobqueue: decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	t, ok := r.types[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, env.Type)
	}

	value := reflect.New(t)
	if len(env.Job) > 0 {
		if err := json.Unmarshal(env.Job, value.Interface()); err != nil {
			return nil, fmt.Errorf("jobqueue: decode job %q: %w", env.Type, err)
		}
	}

	job, ok := value.Interface().(Job)
	if !ok {
		return nil, fmt.Errorf("jobqueue: registered type %q does not implement Job", env.Type)
	}
	return job, nil
}
