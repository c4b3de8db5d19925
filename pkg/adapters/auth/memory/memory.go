package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/aescanero/reactor/pkg/ports"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidToken       = errors.New("invalid session token")
)

// Claims carried by session tokens
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type account struct {
	id    string
	email string
	hash  []byte
}

// Provider implements ports.AuthProvider with in-memory accounts
type Provider struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	accounts map[string]account
	sessions map[string]string // user id -> token
}

// NewProvider creates a provider signing tokens with secret. Tokens expire
// after ttl (default 24h).
func NewProvider(secret string, ttl time.Duration) (*Provider, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Provider{
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
		accounts: make(map[string]account),
		sessions: make(map[string]string),
	}, nil
}

// Register creates an account and returns its user id
func (p *Provider) Register(ctx context.Context, email, password string) (string, error) {
	email = normalize(email)
	if email == "" || password == "" {
		return "", errors.New("email and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.accounts[email]; ok {
		return "", fmt.Errorf("%s: %w", email, ErrUserExists)
	}
	id := uuid.NewString()
	p.accounts[email] = account{id: id, email: email, hash: hash}
	return id, nil
}

// SignIn checks the credentials and opens a session
func (p *Provider) SignIn(ctx context.Context, email, password string) (ports.Session, error) {
	p.mu.RLock()
	acct, ok := p.accounts[normalize(email)]
	p.mu.RUnlock()
	if !ok {
		return ports.Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return ports.Session{}, ErrInvalidCredentials
	}

	now := p.now()
	expires := now.Add(p.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: acct.id,
		Email:  acct.email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.id,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return ports.Session{}, fmt.Errorf("failed to sign token: %w", err)
	}

	p.mu.Lock()
	p.sessions[acct.id] = signed
	p.mu.Unlock()

	return ports.Session{
		UserID:    acct.id,
		Email:     acct.email,
		Token:     signed,
		ExpiresAt: expires,
	}, nil
}

// SignOut ends the user's session. Signing out twice is not an error.
func (p *Provider) SignOut(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.sessions, userID)
	return nil
}

// Verify returns the session a token belongs to. Tokens of signed out
// sessions are rejected.
func (p *Provider) Verify(tokenString string) (ports.Session, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		return ports.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	p.mu.RLock()
	active := p.sessions[claims.UserID]
	p.mu.RUnlock()
	if active != tokenString {
		return ports.Session{}, fmt.Errorf("%w: session ended", ErrInvalidToken)
	}

	return ports.Session{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Token:     tokenString,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
