package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/reactor/internal/application/orchestrator"
	"github.com/aescanero/reactor/pkg/events"
	"github.com/aescanero/reactor/pkg/lifecycle"
	"github.com/aescanero/reactor/pkg/ports"
	"github.com/aescanero/reactor/pkg/reactive"
)

// SessionKey is the storage key of the persisted session.
const SessionKey = "session"

// AuthService signs users in and out and announces it on the bus
type AuthService struct {
	*lifecycle.Lifecycle

	provider ports.AuthProvider
	storage  ports.StorageProvider
	bus      *events.Bus
	logger   *zap.Logger
	now      func() time.Time

	session  *reactive.Observable[*ports.Session]
	signedIn *reactive.Derived[bool]
}

// NewAuthService creates a new auth service
func NewAuthService(
	provider ports.AuthProvider,
	storage ports.StorageProvider,
	bus *events.Bus,
	orch *orchestrator.Manager,
	logger *zap.Logger,
) *AuthService {
	s := &AuthService{
		provider: provider,
		storage:  storage,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
		session:  reactive.New[*ports.Session](nil),
	}
	s.signedIn = reactive.Derive(func(sc *reactive.Scope) bool {
		return s.session.Track(sc) != nil
	})
	s.Lifecycle = lifecycle.New("auth_service", s, lifecycle.WithLogger(logger))
	s.DependOn(orch)
	return s
}

// OnInitialize restores a persisted session. A restored session is
// announced with a LOGIN event, which the orchestrator's init gate holds
// until startup completes.
func (s *AuthService) OnInitialize(ctx context.Context, _ ...any) error {
	raw, ok, err := s.storage.GetItem(ctx, SessionKey)
	if err != nil {
		return fmt.Errorf("failed to read stored session: %w", err)
	}
	if !ok {
		return nil
	}

	var session ports.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil || !session.ExpiresAt.After(s.now()) {
		s.logger.Info("discarding stored session", zap.Error(err))
		return s.storage.RemoveItem(ctx, SessionKey)
	}

	s.setSession(&session)
	_, err = s.bus.Emit(ctx, events.Login, LoginPayload{
		UserID:   session.UserID,
		Email:    session.Email,
		Restored: true,
	}, events.SourceSystem)
	return err
}

func (s *AuthService) setSession(session *ports.Session) {
	if err := s.session.Set(session); err != nil {
		s.logger.Warn("session listeners did not settle", zap.Error(err))
	}
}

// Session is the current session, nil when signed out.
func (s *AuthService) Session() *reactive.Observable[*ports.Session] {
	return s.session
}

// SignedIn reports whether a session is open.
func (s *AuthService) SignedIn() *reactive.Derived[bool] {
	return s.signedIn
}

// CurrentUserID returns the signed in user's id.
func (s *AuthService) CurrentUserID() (string, bool) {
	session := s.session.Get()
	if session == nil {
		return "", false
	}
	return session.UserID, true
}

// SignIn opens a session and emits LOGIN.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (ports.Session, error) {
	session, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return ports.Session{}, fmt.Errorf("failed to sign in: %w", err)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return ports.Session{}, fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.storage.SetItem(ctx, SessionKey, string(data)); err != nil {
		return ports.Session{}, fmt.Errorf("failed to store session: %w", err)
	}
	s.setSession(&session)

	s.logger.Info("user signed in", zap.String("user_id", session.UserID))
	if _, err := s.bus.Emit(ctx, events.Login, LoginPayload{
		UserID: session.UserID,
		Email:  session.Email,
	}, events.SourceUserAction); err != nil {
		return session, err
	}
	return session, nil
}

// SignOut closes the session and emits LOGOUT. Unless preserveUserData is
// set, LOGOUT actions drop the user's loaded data.
func (s *AuthService) SignOut(ctx context.Context, preserveUserData bool) error {
	userID, ok := s.CurrentUserID()
	if !ok {
		return ErrNotSignedIn
	}

	if err := s.provider.SignOut(ctx, userID); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	s.setSession(nil)
	if err := s.storage.RemoveItem(ctx, SessionKey); err != nil {
		s.logger.Warn("failed to remove stored session", zap.Error(err))
	}

	s.logger.Info("user signed out",
		zap.String("user_id", userID),
		zap.Bool("preserve_user_data", preserveUserData))
	_, err := s.bus.Emit(ctx, events.Logout, LogoutPayload{
		UserID:           userID,
		PreserveUserData: preserveUserData,
	}, events.SourceUserAction)
	return err
}
