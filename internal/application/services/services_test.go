package services

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aescanero/reactor/internal/application/orchestrator"
	authmem "github.com/aescanero/reactor/pkg/adapters/auth/memory"
	storagemem "github.com/aescanero/reactor/pkg/adapters/storage/memory"
	"github.com/aescanero/reactor/pkg/events"
	"github.com/aescanero/reactor/pkg/lifecycle"
	"github.com/aescanero/reactor/pkg/ports"
	"github.com/aescanero/reactor/pkg/registry"
)

type recordingLLM struct {
	mu    sync.Mutex
	calls [][]ports.Message
	reply string
}

func (l *recordingLLM) Chat(_ context.Context, messages []ports.Message) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, messages)
	return l.reply, nil
}

type fixture struct {
	bus         *events.Bus
	manager     *orchestrator.Manager
	auth        *authmem.Provider
	persistence *storagemem.Persistence
	storage     *storagemem.KV
	llm         *recordingLLM
	registry    *registry.Registry
	catalog     *Catalog
	logs        *observer.ObservedLogs
}

func newFixture(t *testing.T, cfg orchestrator.Config) *fixture {
	t.Helper()

	f := &fixture{
		bus:         events.NewBus(),
		persistence: storagemem.NewPersistence(),
		storage:     storagemem.NewKV(),
		llm:         &recordingLLM{reply: "A curious engineer."},
		registry:    registry.New(),
	}
	core, logs := observer.New(zapcore.WarnLevel)
	f.logs = logs

	var err error
	f.auth, err = authmem.NewProvider("test-secret", time.Hour)
	require.NoError(t, err)
	f.manager = orchestrator.NewManager(f.bus, storagemem.NewRecordStore(), nil, nil, zap.NewNop(), cfg)

	f.catalog, err = NewCatalog(f.registry, Deps{
		Bus:          f.bus,
		Orchestrator: f.manager,
		Auth:         f.auth,
		Persistence:  f.persistence,
		Storage:      f.storage,
		LLM:          f.llm,
		Logger:       zap.New(core),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.registry.Reset(ctx)
		_ = f.manager.Shutdown(ctx)
	})
	return f
}

func (f *fixture) register(t *testing.T, email string) string {
	t.Helper()
	id, err := f.auth.Register(context.Background(), email, "secret")
	require.NoError(t, err)
	return id
}

func (f *fixture) wait(t *testing.T, ct events.ChangeType) {
	t.Helper()
	require.NoError(t, f.manager.WaitForChangeActions(context.Background(), ct, 2*time.Second))
}

func TestSignInLoadsProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, orchestrator.Config{})
	userID := f.register(t, "ada@example.com")
	require.NoError(t, f.persistence.Upsert(ctx, profilesCollection, ports.Row{"id": userID, "full_name": "Ada Lovelace"}))
	require.NoError(t, f.catalog.Start(ctx))

	auth, err := f.catalog.Auth(ctx)
	require.NoError(t, err)
	profiles, err := f.catalog.Profile(ctx)
	require.NoError(t, err)

	var names []string
	unsubscribe := profiles.DisplayName().OnChange(func(name, _ string) { names = append(names, name) })
	defer unsubscribe()

	assert.False(t, auth.SignedIn().Get())
	session, err := auth.SignIn(ctx, "ada@example.com", "secret")
	require.NoError(t, err)
	assert.True(t, auth.SignedIn().Get())
	f.wait(t, events.Login)

	p := profiles.Profile().Get()
	require.NotNil(t, p)
	assert.Equal(t, "Ada Lovelace", p.FullName)
	assert.Equal(t, "Ada Lovelace", profiles.DisplayName().Get())
	assert.Equal(t, []string{"Ada Lovelace"}, names)

	stored, ok, err := f.storage.GetItem(ctx, SessionKey)
	require.NoError(t, err)
	require.True(t, ok)
	var restored ports.Session
	require.NoError(t, json.Unmarshal([]byte(stored), &restored))
	assert.Equal(t, session.Token, restored.Token)

	records := f.manager.Records(events.Login)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].CompletedActions)
}

func TestSignInWithWrongPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, orchestrator.Config{})
	f.register(t, "ada@example.com")

	auth, err := f.catalog.Auth(ctx)
	require.NoError(t, err)

	_, err = auth.SignIn(ctx, "ada@example.com", "nope")
	assert.ErrorIs(t, err, authmem.ErrInvalidCredentials)
	assert.Nil(t, auth.Session().Get())
	assert.Empty(t, f.manager.Records(events.Login))
}

func TestSignOut(t *testing.T) {
	tests := []struct {
		name        string
		preserve    bool
		wantProfile bool
	}{
		{"clears profile", false, false},
		{"preserves profile", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, orchestrator.Config{})
			userID := f.register(t, "ada@example.com")
			require.NoError(t, f.persistence.Upsert(ctx, profilesCollection, ports.Row{"id": userID, "full_name": "Ada"}))
			require.NoError(t, f.catalog.Start(ctx))

			auth, _ := f.catalog.Auth(ctx)
			profiles, _ := f.catalog.Profile(ctx)

			_, err := auth.SignIn(ctx, "ada@example.com", "secret")
			require.NoError(t, err)
			f.wait(t, events.Login)

			require.NoError(t, auth.SignOut(ctx, tt.preserve))
			f.wait(t, events.Logout)

			assert.Equal(t, tt.wantProfile, profiles.Profile().Get() != nil)
			assert.False(t, auth.SignedIn().Get())
			_, ok, err := f.storage.GetItem(ctx, SessionKey)
			require.NoError(t, err)
			assert.False(t, ok)

			assert.ErrorIs(t, auth.SignOut(ctx, false), ErrNotSignedIn)
		})
	}
}

func TestRestoredSessionWaitsForInitGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, orchestrator.Config{InitGate: events.AppInitDone})
	userID := f.register(t, "ada@example.com")
	require.NoError(t, f.persistence.Upsert(ctx, profilesCollection, ports.Row{"id": userID, "full_name": "Ada"}))

	session, err := f.auth.SignIn(ctx, "ada@example.com", "secret")
	require.NoError(t, err)
	data, err := json.Marshal(session)
	require.NoError(t, err)
	require.NoError(t, f.storage.SetItem(ctx, SessionKey, string(data)))

	require.NoError(t, f.catalog.Start(ctx))
	auth, _ := f.catalog.Auth(ctx)
	profiles, _ := f.catalog.Profile(ctx)

	id, ok := auth.CurrentUserID()
	require.True(t, ok)
	assert.Equal(t, userID, id)
	assert.Equal(t, 1, f.manager.PendingEvents())
	assert.Nil(t, profiles.Profile().Get())

	_, err = f.bus.Emit(ctx, events.AppInitDone, nil, events.SourceSystem)
	require.NoError(t, err)
	f.wait(t, events.Login)

	require.NotNil(t, profiles.Profile().Get())
	assert.Equal(t, "Ada", profiles.DisplayName().Get())
}

func TestExpiredStoredSessionIsDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, orchestrator.Config{})

	data, err := json.Marshal(ports.Session{UserID: "u1", ExpiresAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	require.NoError(t, f.storage.SetItem(ctx, SessionKey, string(data)))

	auth, err := f.catalog.Auth(ctx)
	require.NoError(t, err)
	assert.False(t, auth.SignedIn().Get())

	_, ok, err := f.storage.GetItem(ctx, SessionKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, orchestrator.Config{})
	f.register(t, "ada@example.com")
	require.NoError(t, f.catalog.Start(ctx))

	auth, _ := f.catalog.Auth(ctx)
	profiles, _ := f.catalog.Profile(ctx)

	assert.ErrorIs(t, profiles.Save(ctx, Profile{FullName: "Ada"}), ErrNotSignedIn)

	session, err := auth.SignIn(ctx, "ada@example.com", "secret")
	require.NoError(t, err)
	f.wait(t, events.Login)

	var emitted []events.ChangeEvent
	unsubscribe := f.bus.SubscribeTypes(func(_ context.Context, ev events.ChangeEvent) {
		emitted = append(emitted, ev)
	}, events.UserProfile)
	defer unsubscribe()

	require.NoError(t, profiles.Save(ctx, Profile{FullName: "Ada King"}))

	rows, err := f.persistence.Fetch(ctx, profilesCollection, ports.Filter{"id": session.UserID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada King", rows[0]["full_name"])
	assert.Equal(t, "Ada King", profiles.DisplayName().Get())

	require.Len(t, emitted, 1)
	assert.Equal(t, events.SourceUserAction, emitted[0].Source)
}

func TestGenerateSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, orchestrator.Config{})
	userID := f.register(t, "ada@example.com")
	require.NoError(t, f.catalog.Start(ctx))
	profiles, _ := f.catalog.Profile(ctx)

	_, err := f.bus.Emit(ctx, events.UserProfileGenerateSummary, SummaryRequest{UserID: userID}, events.SourceAPI)
	require.NoError(t, err)
	f.wait(t, events.UserProfileGenerateSummary)
	assert.Equal(t, NoAssessmentsSummary, profiles.Profile().Get().Summary)
	assert.Empty(t, f.llm.calls)

	require.NoError(t, f.persistence.Upsert(ctx, assessmentsCollection,
		ports.Row{"id": "a1", "user_id": userID, "assessment_type": "MBTI", "assessment_summary": "INTJ"},
		ports.Row{"id": "a2", "user_id": "someone-else", "assessment_type": "DISC", "assessment_summary": "D"},
	))

	// Payloads arriving over the wire are plain maps.
	_, err = f.bus.Emit(ctx, events.UserProfileGenerateSummary, map[string]any{"user_id": userID}, events.SourceAPI)
	require.NoError(t, err)
	f.wait(t, events.UserProfileGenerateSummary)

	assert.Equal(t, "A curious engineer.", profiles.Profile().Get().Summary)
	require.Len(t, f.llm.calls, 1)
	prompt := f.llm.calls[0][1].Content
	assert.Contains(t, prompt, "MBTI: INTJ")
	assert.NotContains(t, prompt, "DISC")
}

func TestGenerateSummaryWithoutUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, orchestrator.Config{})
	require.NoError(t, f.catalog.Start(ctx))

	_, err := f.bus.Emit(ctx, events.UserProfileGenerateSummary, nil, events.SourceSystem)
	require.NoError(t, err)

	err = f.manager.WaitForChangeActions(ctx, events.UserProfileGenerateSummary, 2*time.Second)
	assert.ErrorIs(t, err, orchestrator.ErrActionFailed)
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, orchestrator.Config{})

	summary, err := f.catalog.Summary(ctx)
	require.NoError(t, err)
	again, err := f.catalog.Summary(ctx)
	require.NoError(t, err)
	assert.Same(t, summary, again)

	auth, err := f.catalog.Auth(ctx)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Ready, auth.State())
	assert.Equal(t, lifecycle.Ready, f.manager.State())
	assert.Equal(t, []string{"fetch_user_profile"}, f.manager.Actions(events.Login))
	assert.Equal(t, 3, f.registry.Len())

	require.NoError(t, f.registry.Reset(ctx))
	assert.Equal(t, lifecycle.Ended, summary.State())
	assert.Equal(t, lifecycle.Ended, auth.State())
	assert.Zero(t, f.registry.Len())

	_, err = NewCatalog(f.registry, Deps{Bus: f.bus})
	assert.ErrorContains(t, err, "orchestrator is required")
}

func TestResetReleasesServiceActions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, orchestrator.Config{})
	require.NoError(t, f.catalog.Start(ctx))

	before, err := f.catalog.Profile(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []events.ChangeType{
		events.Login,
		events.Logout,
		events.UserAssessment,
		events.UserProfileRefresh,
		events.UserProfileGenerateSummary,
	}, f.manager.EnabledTypes())

	require.NoError(t, f.registry.Reset(ctx))
	assert.Empty(t, f.manager.EnabledTypes())
	assert.Equal(t, lifecycle.Ready, f.manager.State())

	_, err = f.bus.Emit(ctx, events.UserProfileRefresh, nil, events.SourceSystem)
	require.NoError(t, err)
	assert.Empty(t, f.manager.Records(events.UserProfileRefresh))

	after, err := f.catalog.Profile(ctx)
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	assert.Equal(t, lifecycle.Ended, before.State())
	assert.Equal(t, []string{"fetch_user_profile"}, f.manager.Actions(events.Login))
	assert.Equal(t, []string{"user_profile_refresh"}, f.manager.Actions(events.UserProfileRefresh))
	assert.Empty(t, f.manager.Actions(events.UserProfileGenerateSummary))
}

func TestProfileListenerLoopIsLogged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, orchestrator.Config{})
	profiles, err := f.catalog.Profile(ctx)
	require.NoError(t, err)

	n := 0
	unsubscribe := profiles.Profile().OnChange(func(*Profile, *Profile) {
		n++
		_ = profiles.Profile().Set(&Profile{ID: "loop", FullName: strconv.Itoa(n)})
	})
	defer unsubscribe()

	require.NoError(t, profiles.Save(ctx, Profile{ID: "u1", FullName: "Ada Lovelace"}))
	assert.Equal(t, 1, f.logs.FilterMessage("profile listeners did not settle").Len())
}

func TestDecode(t *testing.T) {
	p, err := decode[LoginPayload](LoginPayload{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)

	p, err = decode[LoginPayload](&LoginPayload{UserID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "u2", p.UserID)

	p, err = decode[LoginPayload](map[string]any{"user_id": "u3", "restored": true})
	require.NoError(t, err)
	assert.Equal(t, LoginPayload{UserID: "u3", Restored: true}, p)

	p, err = decode[LoginPayload](nil)
	require.NoError(t, err)
	assert.Zero(t, p)

	_, err = decode[LoginPayload]("not an object")
	assert.Error(t, err)
}
