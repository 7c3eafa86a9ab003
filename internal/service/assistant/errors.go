package assistant

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout        = errors.New("assistant run timed out")
	ErrEmptyText      = errors.New("message text is required")
	ErrNoHandle       = errors.New("conversation handle is required")
	ErrNoReply        = errors.New("assistant returned no reply")
	ErrThreadNotFound = errors.New("thread not found")
	ErrRunNotFound    = errors.New("run not found")
)

// ServiceError reports a failed call to the assistant service or a run that ended unsuccessfully.
type ServiceError struct {
	Op     string
	Status RunStatus
	Err    error
}

func (e *ServiceError) Error() string {
	switch {
	case e.Status != "" && e.Err != nil:
		return fmt.Sprintf("assistant %s: run %s: %v", e.Op, e.Status, e.Err)
	case e.Status != "":
		return fmt.Sprintf("assistant %s: run %s", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("assistant %s: %v", e.Op, e.Err)
	default:
		return "assistant " + e.Op + " failed"
	}
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
