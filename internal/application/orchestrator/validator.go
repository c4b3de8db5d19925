package orchestrator

import (
	"context"
	"fmt"

	"github.com/aescanero/reactor/pkg/events"
)

// Action is one asynchronous reaction to a change event.
type Action struct {
	Name string
	Run  func(ctx context.Context, payload any) error
}

// Validator validates action registrations
type Validator struct{}

// NewValidator creates a new action validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks actions about to be added to those already registered for t
func (v *Validator) Validate(t events.ChangeType, existing, actions []Action) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", events.ErrUnknownChangeType, t)
	}
	if len(actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}

	names := make(map[string]bool, len(existing)+len(actions))
	for _, a := range existing {
		names[a.Name] = true
	}
	for i, a := range actions {
		if err := v.validateAction(a); err != nil {
			return fmt.Errorf("invalid action %d for %s: %w", i, t, err)
		}
		if names[a.Name] {
			return fmt.Errorf("duplicate action name for %s: %s", t, a.Name)
		}
		names[a.Name] = true
	}
	return nil
}

func (v *Validator) validateAction(a Action) error {
	if a.Name == "" {
		return fmt.Errorf("action name is required")
	}
	if a.Run == nil {
		return fmt.Errorf("action %s has no run function", a.Name)
	}
	return nil
}
