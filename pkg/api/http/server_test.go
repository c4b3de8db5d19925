package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/reactor/internal/application/orchestrator"
	"github.com/aescanero/reactor/pkg/adapters/events/memory"
	storage "github.com/aescanero/reactor/pkg/adapters/storage/memory"
	"github.com/aescanero/reactor/pkg/events"
	"github.com/aescanero/reactor/pkg/ports"
)

type staticVerifier struct{ token string }

func (v staticVerifier) Verify(token string) (ports.Session, error) {
	if token != v.token {
		return ports.Session{}, errors.New("invalid session token")
	}
	return ports.Session{UserID: "u1"}, nil
}

type testServer struct {
	server  *Server
	manager *orchestrator.Manager
	bus     *events.Bus
}

func newTestServer(t *testing.T, verifier TokenVerifier) *testServer {
	t.Helper()

	bus := events.NewBus()
	manager := orchestrator.NewManager(bus, storage.NewRecordStore(), nil, nil, zap.NewNop(), orchestrator.Config{})
	journal := memory.NewJournal(16)
	detach := journal.Attach(bus)

	release := make(chan struct{})
	require.NoError(t, manager.RegisterActions(events.Login, orchestrator.Action{
		Name: "load_profile",
		Run:  func(context.Context, any) error { return nil },
	}))
	require.NoError(t, manager.RegisterActions(events.Chat, orchestrator.Action{
		Name: "reply",
		Run:  func(context.Context, any) error { return errors.New("model unavailable") },
	}))
	require.NoError(t, manager.RegisterActions(events.DigDeeper, orchestrator.Action{
		Name: "slow",
		Run: func(context.Context, any) error {
			<-release
			return nil
		},
	}))

	t.Cleanup(func() {
		close(release)
		detach()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	return &testServer{
		server: NewServer(&Config{
			Orchestrator: manager,
			Bus:          bus,
			Journal:      journal,
			Verifier:     verifier,
			Gatherer:     prometheus.NewRegistry(),
			Logger:       zap.NewNop(),
		}),
		manager: manager,
		bus:     bus,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.NoError(t, ts.manager.Initialize(context.Background()))
	w = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)
}

func TestEmitAndWait(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.manager.Initialize(context.Background()))

	w := ts.do(t, http.MethodPost, "/api/v1/changes", EmitRequest{Type: "LOGIN", Payload: map[string]any{"user_id": "u1"}})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	ev := decodeBody[events.ChangeEvent](t, w)
	assert.Equal(t, events.Login, ev.Type)
	assert.Equal(t, events.SourceAPI, ev.Source)

	w = ts.do(t, http.MethodGet, "/api/v1/changes/LOGIN/wait?timeout=2s", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/v1/generations?type=LOGIN", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[struct {
		Generations []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"generations"`
		Total int `json:"total"`
	}](t, w)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "completed", list.Generations[0].Status)

	w = ts.do(t, http.MethodGet, "/api/v1/generations/"+list.Generations[0].ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/generations/LOGIN_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEmitValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
		code string
	}{
		{"missing type", map[string]any{"payload": 1}, "INVALID_REQUEST"},
		{"unknown type", EmitRequest{Type: "NOPE"}, "UNKNOWN_CHANGE_TYPE"},
		{"unknown source", EmitRequest{Type: "LOGIN", Source: "cron"}, "INVALID_SOURCE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/changes", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, w).Error.Code)
		})
	}
}

func TestWaitOutcomes(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.manager.Initialize(context.Background()))

	w := ts.do(t, http.MethodPost, "/api/v1/changes", EmitRequest{Type: "CHAT"})
	require.Equal(t, http.StatusAccepted, w.Code)
	w = ts.do(t, http.MethodGet, "/api/v1/changes/CHAT/wait?timeout=2s", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "ACTION_FAILED", decodeBody[ErrorResponse](t, w).Error.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/changes", EmitRequest{Type: "DIG_DEEPER"})
	require.Equal(t, http.StatusAccepted, w.Code)
	w = ts.do(t, http.MethodGet, "/api/v1/changes/DIG_DEEPER/wait?timeout=20ms", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/changes/DIG_DEEPER/wait?timeout=soon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/changes/NOPE/wait", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetEnabled(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.manager.Initialize(context.Background()))

	w := ts.do(t, http.MethodPut, "/api/v1/changes/LOGIN/enabled", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, ts.manager.IsEnabled(events.Login))

	w = ts.do(t, http.MethodPost, "/api/v1/changes", EmitRequest{Type: "LOGIN"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, ts.manager.Records(events.Login))

	w = ts.do(t, http.MethodGet, "/api/v1/change-types", nil)
	require.Equal(t, http.StatusOK, w.Code)
	types := decodeBody[struct {
		ChangeTypes []ChangeTypeInfo `json:"change_types"`
	}](t, w)
	for _, info := range types.ChangeTypes {
		if info.Type == events.Login {
			assert.False(t, info.Enabled)
			assert.Equal(t, []string{"load_profile"}, info.Actions)
		}
	}

	w = ts.do(t, http.MethodPut, "/api/v1/changes/LOGIN/enabled", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecentEvents(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, ct := range []events.ChangeType{events.Login, events.Chat, events.Login} {
		_, err := ts.bus.Emit(context.Background(), ct, nil, events.SourceSystem)
		require.NoError(t, err)
	}

	w := ts.do(t, http.MethodGet, "/api/v1/events?type=LOGIN&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody[struct {
		Events []events.ChangeEvent `json:"events"`
		Total  uint64               `json:"total"`
	}](t, w)
	require.Len(t, got.Events, 1)
	assert.Equal(t, uint64(3), got.Events[0].Sequence)
	assert.Equal(t, uint64(3), got.Total)

	w = ts.do(t, http.MethodGet, "/api/v1/events?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, staticVerifier{token: "good"})

	w := ts.do(t, http.MethodPost, "/api/v1/changes", EmitRequest{Type: "LOGIN"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/changes", EmitRequest{Type: "LOGIN"}, "Authorization", "Bearer bad")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/changes", EmitRequest{Type: "LOGIN"}, "Authorization", "Bearer good")
	assert.Equal(t, http.StatusAccepted, w.Code)

	// Reads stay open.
	w = ts.do(t, http.MethodGet, "/api/v1/generations", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
