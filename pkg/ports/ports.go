package ports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/reactor/pkg/domain"
)

// ErrNotFound is returned when a requested item does not exist.
var ErrNotFound = errors.New("not found")

// Row is one stored document. The "id" field identifies it within its
// collection.
type Row map[string]any

// ID returns the row identifier, or "" if it has none.
func (r Row) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Filter selects rows whose fields equal the given values. An empty filter
// matches every row.
type Filter map[string]any

// PersistenceProvider stores rows in named collections.
type PersistenceProvider interface {
	Fetch(ctx context.Context, collection string, filter Filter) ([]Row, error)
	Upsert(ctx context.Context, collection string, rows ...Row) error
	Delete(ctx context.Context, collection string, filter Filter) error
}

// Session is an authenticated user session.
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthProvider signs users in and out.
type AuthProvider interface {
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context, userID string) error
}

// Message roles understood by LlmProvider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LlmProvider completes a chat.
type LlmProvider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// StorageProvider is a small key/value store for client state.
type StorageProvider interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// RecordStore keeps settled generation records.
type RecordStore interface {
	Save(ctx context.Context, record *domain.GenerationRecord) error
	Load(ctx context.Context, id string) (*domain.GenerationRecord, error)
	List(ctx context.Context, changeType string) ([]*domain.GenerationRecord, error)
	Delete(ctx context.Context, id string) error
}

// Matches reports whether every field of f equals the same field of row.
// Values are compared by their printed form so that a filter built from
// ints matches rows decoded from JSON numbers.
func (f Filter) Matches(row Row) bool {
	for k, want := range f {
		got, ok := row[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
