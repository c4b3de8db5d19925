package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aescanero/reactor/pkg/ports"
)

// ErrNotSignedIn is returned by operations that need a current user.
var ErrNotSignedIn = errors.New("no user signed in")

// LoginPayload is carried by LOGIN events.
type LoginPayload struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email,omitempty"`
	Restored bool   `json:"restored,omitempty"`
}

// LogoutPayload is carried by LOGOUT events.
type LogoutPayload struct {
	UserID           string `json:"user_id"`
	PreserveUserData bool   `json:"preserve_user_data,omitempty"`
}

// SummaryRequest is carried by USER_PROFILE_GENERATE_SUMMARY events. An
// empty UserID means the signed in user.
type SummaryRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// decode converts an event payload into T. Payloads arriving over the wire
// are generic maps and go through JSON.
func decode[T any](payload any) (T, error) {
	var out T
	switch p := payload.(type) {
	case nil:
		return out, nil
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
		return out, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode payload: %w", err)
	}
	return out, nil
}

func toRow(v any) (ports.Row, error) {
	return decode[ports.Row](v)
}
