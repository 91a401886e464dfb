package provision

import (
	"errors"
	"fmt"
)

// The four failure kinds a run can end with. Use errors.Is against these.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUploadFailed    = errors.New("upload failed")
	ErrProvisionFailed = errors.New("provision failed")
)

// Error carries the failure kind, the step that failed and the cause.
type Error struct {
	Kind error
	Step string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Step != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Step, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName returns a stable label for logs and the run log.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUploadFailed):
		return "upload_failed"
	case errors.Is(err, ErrProvisionFailed):
		return "provision_failed"
	case err == nil:
		return ""
	default:
		return "internal"
	}
}

func fail(kind error, step string, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}
