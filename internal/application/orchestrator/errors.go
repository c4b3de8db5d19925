package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/reactor/pkg/events"
)

var (
	// ErrTimeout is matched by errors.Is for every *TimeoutError.
	ErrTimeout = errors.New("timed out waiting for change actions")
	// ErrActionFailed is matched by errors.Is for every *ActionError.
	ErrActionFailed = errors.New("change action failed")
	// ErrNotFound is returned when a generation record does not exist.
	ErrNotFound = errors.New("generation record not found")
)

// TimeoutError reports that generations were still running when a wait
// gave up. The actions are not cancelled.
type TimeoutError struct {
	ChangeType events.ChangeType
	Timeout    time.Duration
	Pending    int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %d %s generation(s)", e.Timeout, e.Pending, e.ChangeType)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ActionError reports the first failed action among the awaited generations.
type ActionError struct {
	ChangeType   events.ChangeType
	GenerationID string
	Action       string
	Message      string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s for %s failed: %s", e.Action, e.ChangeType, e.Message)
}

func (e *ActionError) Is(target error) bool {
	return target == ErrActionFailed
}
