// File: internal/metrics/sink.go

// Package metrics records operational counters for enrollment runs. All
// sinks are fire-and-forget: no method blocks or returns an error, so the
// state machine never stalls on instrumentation.
package metrics

import "time"

// Sink receives run instrumentation. Implementations MUST NOT block and
// MUST NOT propagate errors; a broken metrics backend degrades to silence.
type Sink interface {
	// JobStarted counts one enrollment job entering the supervisor.
	JobStarted()
	// JobFinished counts one terminal outcome and observes the run duration.
	JobFinished(outcome string, duration time.Duration)
	// SessionOpened counts one browser session handed to a run.
	SessionOpened()
	// SessionClosed counts one browser session released.
	SessionClosed()
	// FieldsFilled counts form fields filled during one run.
	FieldsFilled(count int)
	// EventEmitted counts one progress event appended to a job log.
	EventEmitted()
}

// Outcome labels for JobFinished. Failure kinds from the run taxonomy pass
// through verbatim, so the full label set is these plus the taxonomy kinds.
const (
	OutcomeEnrolled     = "enrolled"
	OutcomeUnconfirmed  = "unconfirmed"
	OutcomeFormRejected = "form_rejected"
	OutcomeCanceled     = "canceled"
)
