package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected is returned when work is submitted after shutdown.
	ErrRejected = errors.New("executor rejected task: shut down")
	// ErrAlreadyShutdown is returned by a second Shutdown or ShutdownNow.
	// It matches ErrRejected under errors.Is.
	ErrAlreadyShutdown = fmt.Errorf("%w: shutdown already requested", ErrRejected)
	ErrTimeout         = errors.New("timed out waiting for task result")
	ErrCancelled       = errors.New("task cancelled")
	ErrInvalidPeriod   = errors.New("period must be > 0")
	ErrNilWork         = errors.New("task work is nil")
)

// TaskFailure is the failure captured in a handle when the work item returned
// an error or panicked. It is only surfaced by Get/GetTimeout.
type TaskFailure struct {
	Task  string
	Err   error
	Panic any
	Stack string
}

func (f *TaskFailure) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("task %q panicked: %v", f.Task, f.Panic)
	}
	return fmt.Sprintf("task %q failed: %v", f.Task, f.Err)
}

func (f *TaskFailure) Unwrap() error { return f.Err }

// IsPanic reports whether the failure came from a recovered panic.
func (f *TaskFailure) IsPanic() bool { return f.Panic != nil }
