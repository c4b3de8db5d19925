// Package lifecycle implements the initialize/end protocol shared by every
// long-lived service.
//
// A service embeds *Lifecycle and supplies the hooks:
//
//	type ProfileService struct {
//	    *lifecycle.Lifecycle
//	}
//
//	func NewProfileService() *ProfileService {
//	    s := &ProfileService{}
//	    s.Lifecycle = lifecycle.New("profile", s)
//	    return s
//	}
//
//	func (s *ProfileService) OnInitialize(ctx context.Context, args ...any) error { ... }
//
// The state machine is
//
//	Uninitialized -> Initializing -> Ready | Failed -> Ended
//
// Initialize runs OnInitialize at most once. Callers arriving while the hook
// runs wait for the same result, and callers arriving later get the cached
// result, including a cached failure. End is symmetric: OnEnd runs at most
// once and every function registered with Track is called even if OnEnd
// fails or panics. Ended is terminal; Initialize after End returns ErrEnded.
package lifecycle
