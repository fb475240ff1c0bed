package bezelagent

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrPayloadBuild marks a failed probe payload build. It is fatal: without a
// payload no group can be measured, so the batch aborts before acquisition.
var ErrPayloadBuild = errors.New("probe payload build failed")

// ErrDatasetLoad marks an unreadable or undecodable dataset file. Fatal.
var ErrDatasetLoad = errors.New("dataset load failed")

// ErrDatasetWrite marks a failed dataset write. Fatal: results that cannot
// be persisted are worthless, and no partial file is left behind.
var ErrDatasetWrite = errors.New("dataset write failed")

// FailureReason classifies why one work group produced no metric. Reasons
// are recoverable: the group's identifiers land in problematic and are
// retried on the next run.
type FailureReason string

const (
	ReasonNoSupportedProfile FailureReason = "no-supported-profile"
	ReasonBootFailed         FailureReason = "boot-failed"
	ReasonProbeLaunchFailed  FailureReason = "probe-launch-failed"
	ReasonResultUnavailable  FailureReason = "result-unavailable"
)

// GroupFailure carries a single work group's failure out of the lifecycle
// runner. It never aborts sibling groups; the reconciler folds it into the
// problematic queue.
type GroupFailure struct {
	Reason FailureReason
	Cause  error
}

func (f *GroupFailure) Error() string {
	if f.Cause == nil {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %v", f.Reason, f.Cause)
}

func (f *GroupFailure) Unwrap() error { return f.Cause }

func newGroupFailure(reason FailureReason, cause error) *GroupFailure {
	return &GroupFailure{Reason: reason, Cause: cause}
}

// failureReason extracts the classification from err, defaulting to
// ReasonResultUnavailable for errors that escaped without one.
func failureReason(err error) FailureReason {
	var gf *GroupFailure
	if errors.As(err, &gf) {
		return gf.Reason
	}
	return ReasonResultUnavailable
}
