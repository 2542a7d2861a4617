package runner

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/agentd/internal/safety"
)

// BlockedError is a safety policy denial. It is resolved entirely at the
// admission boundary: the task never enters the queue and the circuit
// breaker is never touched.
type BlockedError struct {
	Reason safety.Reason
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("task blocked (%s): %s", e.Reason, safety.Explain(e.Reason))
}

// InvalidRequestError is a malformed or incomplete request. Distinct from
// both policy denials and execution failures.
type InvalidRequestError struct {
	Reason safety.Reason
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request (%s): %s", e.Reason, safety.Explain(e.Reason))
}

// IsBlocked reports whether err is a safety policy denial.
func IsBlocked(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked)
}

// IsInvalidRequest reports whether err is a request validation error.
func IsInvalidRequest(err error) bool {
	var invalid *InvalidRequestError
	return errors.As(err, &invalid)
}

// denialError maps a guard reason to the proper error class. A missing
// description is an invalid request, not a policy denial.
func denialError(reason safety.Reason) error {
	if reason == safety.ReasonMissingDescription {
		return &InvalidRequestError{Reason: reason}
	}
	return &BlockedError{Reason: reason}
}
