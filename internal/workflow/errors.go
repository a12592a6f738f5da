package workflow

import (
	"errors"
	"fmt"
)

// ErrAdvanceInProgress is returned when a second caller tries to advance a
// workflow that is already being advanced.
var ErrAdvanceInProgress = errors.New("workflow advance already in progress")

// ErrAdvisoryUnavailable marks an advisory-function failure. Optimization and
// stuck diagnosis degrade instead of failing when they see it.
var ErrAdvisoryUnavailable = errors.New("advisory function unavailable")

// ValidationError rejects bad input to StartWorkflow. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "invalid alert: " + e.Msg }

// NotFoundError is returned by Store.GetWorkflow for an unknown ID.
type NotFoundError struct {
	WorkflowID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("workflow %s not found", e.WorkflowID)
}

// PersistenceError wraps a Store or MetricsStore write failure. A failed
// persistence write is never treated as a successful stage transition.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TransientError marks a stage executor failure that is eligible for retry
// under the backoff policy.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a stage executor failure that skips remaining retries
// and fails the workflow immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// DeliveryError marks a notification transport failure. Retryable under the
// same backoff policy as other stage failures.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return "delivery: " + e.Err.Error() }
func (e *DeliveryError) Unwrap() error { return e.Err }

// Retryable reports whether a stage failure should be retried. Permanent and
// validation failures are not; everything else is treated as transient, which
// matches how the stage executors classify unknown faults.
func Retryable(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	var val *ValidationError
	return !errors.As(err, &val)
}
