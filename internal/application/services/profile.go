package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/reactor/internal/application/orchestrator"
	"github.com/aescanero/reactor/pkg/events"
	"github.com/aescanero/reactor/pkg/lifecycle"
	"github.com/aescanero/reactor/pkg/ports"
	"github.com/aescanero/reactor/pkg/reactive"
)

const profilesCollection = "user_profiles"

// Profile is a user's profile. ID is the user id.
type Profile struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileService keeps the signed in user's profile loaded
type ProfileService struct {
	*lifecycle.Lifecycle

	auth         *AuthService
	persistence  ports.PersistenceProvider
	bus          *events.Bus
	orchestrator *orchestrator.Manager
	logger       *zap.Logger
	now          func() time.Time

	profile     *reactive.Observable[*Profile]
	displayName *reactive.Derived[string]
}

// NewProfileService creates a new profile service
func NewProfileService(
	auth *AuthService,
	persistence ports.PersistenceProvider,
	bus *events.Bus,
	orch *orchestrator.Manager,
	logger *zap.Logger,
) *ProfileService {
	s := &ProfileService{
		auth:         auth,
		persistence:  persistence,
		bus:          bus,
		orchestrator: orch,
		logger:       logger,
		now:          time.Now,
		profile:      reactive.New[*Profile](nil),
	}
	s.displayName = reactive.Derive(func(sc *reactive.Scope) string {
		p := s.profile.Track(sc)
		if p == nil {
			return ""
		}
		return p.FullName
	})
	s.Lifecycle = lifecycle.New("profile_service", s, lifecycle.WithLogger(logger))
	s.DependOn(orch, auth)
	return s
}

func (s *ProfileService) OnInitialize(ctx context.Context, _ ...any) error {
	registrations := []struct {
		changeType events.ChangeType
		action     orchestrator.Action
	}{
		{events.Login, orchestrator.Action{Name: "fetch_user_profile", Run: s.fetchOnLogin}},
		{events.UserProfileRefresh, orchestrator.Action{Name: "user_profile_refresh", Run: s.refresh}},
		{events.UserAssessment, orchestrator.Action{Name: "user_profile_refresh", Run: s.refresh}},
		{events.Logout, orchestrator.Action{Name: "clear_user_profile", Run: s.clearOnLogout}},
	}
	for _, r := range registrations {
		if err := s.orchestrator.RegisterActions(r.changeType, r.action); err != nil {
			return err
		}
		t, name := r.changeType, r.action.Name
		s.Track(func() { s.orchestrator.UnregisterActions(t, name) })
	}
	return nil
}

func (s *ProfileService) setProfile(p *Profile) {
	if err := s.profile.Set(p); err != nil {
		s.logger.Warn("profile listeners did not settle", zap.Error(err))
	}
}

// Profile is the loaded profile, nil when none is loaded.
func (s *ProfileService) Profile() *reactive.Observable[*Profile] {
	return s.profile
}

// DisplayName follows the loaded profile's full name.
func (s *ProfileService) DisplayName() *reactive.Derived[string] {
	return s.displayName
}

// Load fetches the profile of userID and makes it the loaded profile. It
// returns nil when the user has no profile yet.
func (s *ProfileService) Load(ctx context.Context, userID string) (*Profile, error) {
	rows, err := s.persistence.Fetch(ctx, profilesCollection, ports.Filter{"id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	var p *Profile
	if len(rows) > 0 {
		loaded, err := decode[Profile](rows[0])
		if err != nil {
			return nil, err
		}
		p = &loaded
	}

	s.setProfile(p)
	s.logger.Debug("profile loaded",
		zap.String("user_id", userID),
		zap.Bool("found", p != nil))
	return p, nil
}

// Save persists p, makes it the loaded profile and emits USER_PROFILE. An
// empty ID means the signed in user.
func (s *ProfileService) Save(ctx context.Context, p Profile) error {
	if p.ID == "" {
		userID, ok := s.auth.CurrentUserID()
		if !ok {
			return ErrNotSignedIn
		}
		p.ID = userID
	}
	p.UpdatedAt = s.now().UTC()

	row, err := toRow(p)
	if err != nil {
		return err
	}
	if err := s.persistence.Upsert(ctx, profilesCollection, row); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	s.setProfile(&p)
	_, err = s.bus.Emit(ctx, events.UserProfile, p, events.SourceUserAction)
	return err
}

// SetSummary stores a generated summary on the profile of userID.
func (s *ProfileService) SetSummary(ctx context.Context, userID, summary string) error {
	p := Profile{ID: userID}
	if current := s.profile.Get(); current != nil && current.ID == userID {
		p = *current
	} else {
		loaded, err := s.Load(ctx, userID)
		if err != nil {
			return err
		}
		if loaded != nil {
			p = *loaded
		}
	}
	p.Summary = summary
	return s.Save(ctx, p)
}

func (s *ProfileService) fetchOnLogin(ctx context.Context, payload any) error {
	p, err := decode[LoginPayload](payload)
	if err != nil {
		return err
	}
	if p.UserID == "" {
		return fmt.Errorf("login payload has no user id")
	}
	_, err = s.Load(ctx, p.UserID)
	return err
}

func (s *ProfileService) refresh(ctx context.Context, _ any) error {
	userID, ok := s.auth.CurrentUserID()
	if !ok {
		s.logger.Debug("no user signed in, skipping profile refresh")
		return nil
	}
	_, err := s.Load(ctx, userID)
	return err
}

func (s *ProfileService) clearOnLogout(_ context.Context, payload any) error {
	p, err := decode[LogoutPayload](payload)
	if err != nil {
		return err
	}
	if !p.PreserveUserData {
		s.setProfile(nil)
	}
	return nil
}
