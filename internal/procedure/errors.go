package procedure

import (
	"errors"
	"fmt"
	"time"
)

// InvalidRequestError reports a malformed request rejected before any
// catalog lookup or execution happens.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string { return e.Reason }

// IsInvalidRequest reports whether err is a request rejected at the boundary.
func IsInvalidRequest(err error) bool {
	var ir *InvalidRequestError
	return errors.As(err, &ir)
}

// NotFoundError reports a lookup for a procedure (or version) the catalog
// does not hold. It is a distinct shape so callers can tell "bad name" from
// "procedure ran and failed".
type NotFoundError struct {
	Name    string
	Version string
}

func (e *NotFoundError) Error() string {
	if e.Version != "" && e.Version != VersionLatest {
		return fmt.Sprintf("procedure not found: %s@%s", e.Name, e.Version)
	}
	return fmt.Sprintf("procedure not found: %s", e.Name)
}

// IsNotFound reports whether err is a catalog miss.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// TimeoutError reports that a synchronous wait elapsed before the execution
// finished. The underlying execution has been force-terminated by the time
// this is returned.
type TimeoutError struct {
	ExecutionID string
	Timeout     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("procedure execution %s timed out after %s", e.ExecutionID, e.Timeout)
}

// IsTimeout reports whether err is a timeout, as opposed to a failure raised
// by the procedure itself.
func IsTimeout(err error) bool {
	var to *TimeoutError
	return errors.As(err, &to)
}

// ExecutionError reports that the procedure ran and failed.
type ExecutionError struct {
	ExecutionID string
	State       string
	Cause       error
}

func (e *ExecutionError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("procedure execution %s failed at state %q: %v", e.ExecutionID, e.State, e.Cause)
	}
	return fmt.Sprintf("procedure execution %s failed: %v", e.ExecutionID, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }
