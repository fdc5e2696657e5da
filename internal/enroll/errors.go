// File: internal/enroll/errors.go
package enroll

import "fmt"

// FailureKind names the ways a run can terminate as failed. The set is
// closed: anything not covered by a specific kind is an unhandled run
// error. Callers and metrics key off these exact strings.
type FailureKind string

const (
	FailureLaunch     FailureKind = "launch_error"
	FailureNavigation FailureKind = "navigation_timeout"
	FailureNoForm     FailureKind = "no_form_detected"
	FailureUnhandled  FailureKind = "unhandled_run_error"
)

// RunError is a fatal enrollment failure. It never escapes the machine;
// Run folds it into the result so callers see a terminal outcome, not an
// error value.
type RunError struct {
	Kind FailureKind
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

func failf(kind FailureKind, format string, args ...any) *RunError {
	return &RunError{Kind: kind, Err: fmt.Errorf(format, args...)}
}
