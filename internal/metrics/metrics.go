// Package metrics declares the Prometheus collectors this module exposes.
// Unlike a package-global registry, Metrics is a value each Worker owns
// and registers against a caller-supplied Registerer, so a program
// embedding more than one Worker doesn't collide on collector names.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the Worker's reservation and execution
// loop updates.
type Metrics struct {
	ReservationsTotal     *prometheus.CounterVec
	JobsSucceededTotal    *prometheus.CounterVec
	JobsRetriedTotal      *prometheus.CounterVec
	JobsDeadLetteredTotal *prometheus.CounterVec
	JobDuration           *prometheus.HistogramVec
	ActiveWorkers         *prometheus.GaugeVec
}

// New builds a Metrics bundle and registers every collector against reg. A
// nil reg is treated as prometheus.DefaultRegisterer. Calling New more than
// once against the same Registerer (one Worker per queue in a single
// process, for example) does not panic: the second call reuses the
// collectors the first one registered instead of double-registering them.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ReservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "reservations_total",
			Help:      "Total job reservation attempts, by queue.",
		}, []string{"queue"}),

		JobsSucceededTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "jobs_succeeded_total",
			Help:      "Total jobs that completed successfully, by queue.",
		}, []string{"queue"}),

		JobsRetriedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "jobs_retried_total",
			Help:      "Total job attempts that failed and were rescheduled, by queue.",
		}, []string{"queue"}),

		JobsDeadLetteredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobqueue",
			Name:      "jobs_dead_lettered_total",
			Help:      "Total job attempts that exhausted their retries, by queue.",
		}, []string{"queue"}),

		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobqueue",
			Name:      "job_duration_seconds",
			Help:      "Time spent inside a job's Handle call, by queue and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue", "outcome"}),

		ActiveWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jobqueue",
			Name:      "active_workers",
			Help:      "Number of worker goroutines currently running, by queue.",
		}, []string{"queue"}),
	}

	m.ReservationsTotal = registerOrReuse(reg, m.ReservationsTotal)
	m.JobsSucceededTotal = registerOrReuse(reg, m.JobsSucceededTotal)
	m.JobsRetriedTotal = registerOrReuse(reg, m.JobsRetriedTotal)
	m.JobsDeadLetteredTotal = registerOrReuse(reg, m.JobsDeadLetteredTotal)
	m.JobDuration = registerOrReuse(reg, m.JobDuration)
	m.ActiveWorkers = registerOrReuse(reg, m.ActiveWorkers)

	return m
}

// registerOrReuse registers c against reg, same name every New call
// (Workers in one process share a metric namespace). When a second
// Worker connects against the same Registerer, reg.Register
// returns an AlreadyRegisteredError carrying the collector that won the
// race; we hand that one back instead of panicking, so every caller ends
// up incrementing the same collector instead of colliding on registration.
func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
