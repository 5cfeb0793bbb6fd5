package types

import (
	"errors"
	"fmt"
)

var (
	ErrInternal    = errors.New("internal error")
	ErrNoFiles     = errors.New("no files produced")
	ErrFileExpired = errors.New("file is expired or changed")
)

// UserInputError is reported back to the user as a plain message.
type UserInputError struct {
	Msg string
	Err error
}

func NewUserInputError(msg string) *UserInputError { return &UserInputError{Msg: msg} }

func (e *UserInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("user input: %s: %v", e.Msg, e.Err)
	}
	return "user input: " + e.Msg
}

func (e *UserInputError) Unwrap() error { return e.Err }

// ExternalToolError wraps a failed extraction or transcoding subprocess.
type ExternalToolError struct {
	Tool   string
	Output string
	Err    error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// DeliveryError means neither the direct attachment nor the link path succeeded.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return "delivery failed: " + e.Err.Error() }

func (e *DeliveryError) Unwrap() error { return e.Err }

// WorkerFatalError is the job boundary error; the user has already been notified.
type WorkerFatalError struct {
	JobID string
	Err   error
}

func (e *WorkerFatalError) Error() string {
	return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
}

func (e *WorkerFatalError) Unwrap() error { return e.Err }

// UserMessage picks the user-facing text for an error. Operational details never leak.
func UserMessage(err error) string {
	var uie *UserInputError
	switch {
	case errors.As(err, &uie):
		return uie.Msg
	case errors.Is(err, ErrFileExpired):
		return "This file is no longer available. Download it again to trim."
	case errors.Is(err, ErrNoFiles):
		return "Nothing was downloaded from this link."
	default:
		var dErr *DeliveryError
		if errors.As(err, &dErr) {
			return "Could not send the result. Try again later."
		}
		return "Download failed. Try again later."
	}
}
