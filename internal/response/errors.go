package response

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is wrapped by repositories when a record does not exist.
var ErrNotFound = errors.New("not found")

// PreconditionError is returned when a stage is invoked on a response that is
// not in one of the states the stage may start from, or that lacks data the
// stage cannot degrade around.
type PreconditionError struct {
	ResponseID string
	Stage      StageName
	Status     Status
	Expected   []Status
	Reason     string
}

func (e *PreconditionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s precondition failed for response %s: %s", e.Stage, e.ResponseID, e.Reason)
	}
	expected := make([]string, 0, len(e.Expected))
	for _, s := range e.Expected {
		expected = append(expected, string(s))
	}
	return fmt.Sprintf("%s precondition failed for response %s: status %s, expected one of [%s]",
		e.Stage, e.ResponseID, e.Status, strings.Join(expected, ", "))
}
