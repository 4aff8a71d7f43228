package registry

import (
	"context"
	"strings"
	"testing"
	"time"
)

type sendEmail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func (j *sendEmail) Handle(_ context.Context) error { return nil }

type withExtras struct {
	N int `json:"n"`
}

func (j *withExtras) Handle(_ context.Context) error          { return nil }
func (j *withExtras) Queue() string                           { return "priority" }
func (j *withExtras) Tries() int                              { return 3 }
func (j *withExtras) Timeout() time.Duration                  { return 5 * time.Second }
func (j *withExtras) Backoff(attempt int) time.Duration       { return time.Duration(attempt) * time.Second }
func (j *withExtras) Failed(_ context.Context, _ error) error { return nil }

func TestRegistryEncodeDecodeRoundTrip(t *testing.T) {
	r := New()
	r.Register("send_email", &sendEmail{})

	job := &sendEmail{To: "a@example.com", Subject: "hi"}
	payload, err := r.Encode(job)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(payload, `"type":"send_email"`) {
		t.Errorf("payload missing type tag: %s", payload)
	}

	decoded, err := r.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(*sendEmail)
	if !ok {
		t.Fatalf("decoded type = %T, want *sendEmail", decoded)
	}
	if got.To != job.To || got.Subject != job.Subject {
		t.Errorf("decoded = %+v, want %+v", got, job)
	}
}

func TestRegistryDecodeUnknownType(t *testing.T) {
	r := New()
	_, err := r.Decode(`{"type":"nope","job":{}}`)
	if err == nil {
		t.Fatal("want error for unregistered type")
	}
}

func TestRegistryDecodeMissingType(t *testing.T) {
	r := New()
	_, err := r.Decode(`{"job":{}}`)
	if err == nil {
		t.Fatal("want error for missing type field")
	}
}

func TestRegistryRegisterDuplicatePanics(t *testing.T) {
	r := New()
	r.Register("dup", &sendEmail{})

	defer func() {
		if recover() == nil {
			t.Fatal("want panic on duplicate registration")
		}
	}()
	r.Register("dup", &sendEmail{})
}

func TestRegistryOptionalInterfaces(t *testing.T) {
	r := New()
	r.Register("with_extras", &withExtras{})

	job := &withExtras{N: 1}
	if job.Queue() != "priority" {
		t.Errorf("Queue() = %q, want priority", job.Queue())
	}
	if job.Tries() != 3 {
		t.Errorf("Tries() = %d, want 3", job.Tries())
	}
	if job.Timeout() != 5*time.Second {
		t.Errorf("Timeout() = %v, want 5s", job.Timeout())
	}

	payload, err := r.Encode(job)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := r.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := decoded.(interface{ Queue() string }); !ok {
		t.Error("decoded job lost its Queuer interface")
	}
}

func TestDefaultsForJobWithoutOverrides(t *testing.T) {
	r := New()
	r.Register("send_email", &sendEmail{})

	job := Job(&sendEmail{To: "a@example.com", Subject: "hi"})

	if _, ok := job.(Trier); ok {
		t.Fatal("sendEmail must not implement Trier for this test to be meaningful")
	}
	if _, ok := job.(Timeouter); ok {
		t.Fatal("sendEmail must not implement Timeouter for this test to be meaningful")
	}

	if DefaultTries != 1 {
		t.Errorf("DefaultTries = %d, want 1 (a job without Trier gets exactly one attempt)", DefaultTries)
	}
	if DefaultTimeout != 300*time.Second {
		t.Errorf("DefaultTimeout = %v, want 300s", DefaultTimeout)
	}
}

func TestDefaultBackoffIsExponential(t *testing.T) {
	if DefaultBackoff(1) >= DefaultBackoff(2) {
		t.Errorf("DefaultBackoff should grow with attempt: %v >= %v", DefaultBackoff(1), DefaultBackoff(2))
	}
}
