package events

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChangeType is the category of a change event. The set of valid types is
// closed: a type must be a built-in constant or added with Register before it
// can be emitted.
type ChangeType string

// Application state
const (
	Auth         ChangeType = "AUTH"
	Ftux         ChangeType = "FTUX"
	FtuxComplete ChangeType = "FTUX_COMPLETE"
	Login        ChangeType = "LOGIN"
	Signup       ChangeType = "SIGNUP"
	Logout       ChangeType = "LOGOUT"
	AppInitDone  ChangeType = "APP_INIT_DONE"
)

// User data
const (
	UserProfile                ChangeType = "USER_PROFILE"
	UserAssessment             ChangeType = "USER_ASSESSMENT"
	AssessmentUpdated          ChangeType = "ASSESSMENT_UPDATED"
	AssessmentDeleted          ChangeType = "ASSESSMENT_DELETED"
	UserProfileRefresh         ChangeType = "USER_PROFILE_REFRESH"
	UserProfileGenerateSummary ChangeType = "USER_PROFILE_GENERATE_SUMMARY"
)

// Goals, interests and personal development
const (
	ShortTermGoal           ChangeType = "SHORT_TERM_GOAL"
	LongTermGoal            ChangeType = "LONG_TERM_GOAL"
	MainInterest            ChangeType = "MAIN_INTEREST"
	ProfessionalDevelopment ChangeType = "PROFESSIONAL_DEVELOPMENT"
	DigDeeper               ChangeType = "DIG_DEEPER"
	Chat                    ChangeType = "CHAT"
)

// Personal attributes
const (
	CoreValues   ChangeType = "CORE_VALUES"
	Motivations  ChangeType = "MOTIVATIONS"
	Weaknesses   ChangeType = "WEAKNESSES"
	AboutYou     ChangeType = "ABOUT_YOU"
	TopQualities ChangeType = "TOP_QUALITIES"
	QuickInsight ChangeType = "QUICK_INSIGHT"
	InnerCircle  ChangeType = "INNER_CIRCLE"
)

var taxonomy = struct {
	mu    sync.RWMutex
	types map[ChangeType]struct{}
}{
	types: map[ChangeType]struct{}{
		Auth: {}, Ftux: {}, FtuxComplete: {}, Login: {}, Signup: {}, Logout: {}, AppInitDone: {},
		UserProfile: {}, UserAssessment: {}, AssessmentUpdated: {}, AssessmentDeleted: {},
		UserProfileRefresh: {}, UserProfileGenerateSummary: {},
		ShortTermGoal: {}, LongTermGoal: {}, MainInterest: {},
		ProfessionalDevelopment: {}, DigDeeper: {}, Chat: {},
		CoreValues: {}, Motivations: {}, Weaknesses: {}, AboutYou: {},
		TopQualities: {}, QuickInsight: {}, InnerCircle: {},
	},
}

// Register adds application-specific change types. It is meant to be called
// during start-up, before any events are emitted.
func Register(types ...ChangeType) {
	taxonomy.mu.Lock()
	defer taxonomy.mu.Unlock()
	for _, t := range types {
		if t != "" {
			taxonomy.types[t] = struct{}{}
		}
	}
}

// Valid reports whether t belongs to the taxonomy.
func (t ChangeType) Valid() bool {
	taxonomy.mu.RLock()
	defer taxonomy.mu.RUnlock()
	_, ok := taxonomy.types[t]
	return ok
}

func (t ChangeType) String() string {
	return string(t)
}

// ParseChangeType converts s into a registered ChangeType.
func ParseChangeType(s string) (ChangeType, error) {
	t := ChangeType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownChangeType, s)
	}
	return t, nil
}

// Types returns every registered change type in lexical order.
func Types() []ChangeType {
	taxonomy.mu.RLock()
	out := make([]ChangeType, 0, len(taxonomy.types))
	for t := range taxonomy.types {
		out = append(out, t)
	}
	taxonomy.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Source tags where an event came from.
type Source string

const (
	SourceUserAction Source = "user_action"
	SourceSystem     Source = "system"
	SourceAPI        Source = "api"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceUserAction, SourceSystem, SourceAPI:
		return true
	}
	return false
}

// ChangeEvent is one emitted change. It is a value and is never modified
// after Emit returns it.
type ChangeEvent struct {
	ID        uuid.UUID  `json:"id"`
	Type      ChangeType `json:"type"`
	Payload   any        `json:"payload,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	// Sequence orders events emitted on one bus.
	Sequence uint64 `json:"sequence"`
	Source   Source `json:"source"`
}
