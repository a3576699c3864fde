// Package auth implements spec §4.7: a local user table (username,
// bcrypt password hash, role) and an HMAC-signed bearer token lifecycle.
// The user store is grounded on the teacher's pkg/manager/token.go
// (map-under-a-mutex CRUD shape); token minting/verification is
// generalized from that file's random-opaque-token JoinToken into a
// self-verifying signed token carrying a subject, via
// pkg/security.SignToken/VerifyToken.
package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/lattice-fl/lattice/pkg/errs"
	"github.com/lattice-fl/lattice/pkg/metrics"
	"github.com/lattice-fl/lattice/pkg/security"
)

// Role is one of the three roles spec §4.7 names.
type Role string

const (
	RoleServer   Role = "server"
	RoleClient   Role = "client"
	RoleObserver Role = "observer"
)

// User is one row of the local user table.
type User struct {
	Username     string
	PasswordHash string
	Role         Role
}

// Store holds the user table plus the HMAC signing key and mints/verifies
// bearer tokens. The zero value is not usable; construct with NewStore.
type Store struct {
	mu         sync.RWMutex
	users      map[string]*User
	signingKey []byte
	tokenTTL   time.Duration
	simulation bool
}

// NewStore constructs a Store. signingKey must be non-empty; tokenTTL <=0
// mints tokens that never expire. simulation enables the spec §4.7
// auto-create-on-first-contact behavior and must be false in production.
func NewStore(signingKey []byte, tokenTTL time.Duration, simulation bool) (*Store, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("auth: signing key must not be empty")
	}
	return &Store{
		users:      make(map[string]*User),
		signingKey: signingKey,
		tokenTTL:   tokenTTL,
		simulation: simulation,
	}, nil
}

// AddUser registers a user with an already-bcrypt-hashed password (as
// loaded from the user config file). Re-adding an existing username
// overwrites it.
func (s *Store) AddUser(username, passwordHash string, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &User{Username: username, PasswordHash: passwordHash, Role: role}
}

// CreateUser hashes password and registers a new user.
func (s *Store) CreateUser(username, password string, role Role) error {
	hash, err := security.HashPassword(password)
	if err != nil {
		return fmt.Errorf("auth: create user: %w", err)
	}
	s.AddUser(username, hash, role)
	return nil
}

// Authenticate verifies username/password and, on success, mints a bearer
// token. On first contact with an unknown username, if simulation mode is
// on, a client user is auto-created per spec §4.7; otherwise unknown
// usernames are rejected.
func (s *Store) Authenticate(username, password string) (token string, role Role, err error) {
	s.mu.RLock()
	user, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		if !s.simulation {
			metrics.AuthFailuresTotal.WithLabelValues("unknown_user").Inc()
			return "", "", fmt.Errorf("auth: %w", errs.ErrUnauthorized)
		}
		if err := s.CreateUser(username, password, RoleClient); err != nil {
			return "", "", fmt.Errorf("auth: simulation auto-create: %w", err)
		}
		s.mu.RLock()
		user = s.users[username]
		s.mu.RUnlock()
	} else if err := security.VerifyPassword(user.PasswordHash, password); err != nil {
		metrics.AuthFailuresTotal.WithLabelValues("bad_password").Inc()
		return "", "", fmt.Errorf("auth: %w", errs.ErrUnauthorized)
	}

	tok, err := security.SignToken(s.signingKey, username, s.tokenTTL)
	if err != nil {
		return "", "", fmt.Errorf("auth: mint token: %w", err)
	}
	metrics.TokensIssuedTotal.Inc()
	return tok, user.Role, nil
}

// VerifyToken checks a bearer token and resolves it to a username and
// role. Unknown users (e.g. a revoked account) are rejected even with a
// structurally valid token.
func (s *Store) VerifyToken(token string) (username string, role Role, err error) {
	subject, err := security.VerifyToken(s.signingKey, token, 5*time.Second)
	if err != nil {
		metrics.AuthFailuresTotal.WithLabelValues("invalid_token").Inc()
		return "", "", fmt.Errorf("auth: %w: %w", errs.ErrUnauthorized, err)
	}
	s.mu.RLock()
	user, ok := s.users[subject]
	s.mu.RUnlock()
	if !ok {
		metrics.AuthFailuresTotal.WithLabelValues("unknown_subject").Inc()
		return "", "", fmt.Errorf("auth: %w", errs.ErrUnauthorized)
	}
	return user.Username, user.Role, nil
}

// Users returns a copy of the user table, for persistence by
// pkg/storage. Password hashes are included as stored (bcrypt, never
// plaintext) so a restored store can AddUser them back directly.
func (s *Store) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	return out
}

// RequireRole is a convenience check used by transport handlers.
func RequireRole(actual Role, allowed ...Role) error {
	for _, r := range allowed {
		if actual == r {
			return nil
		}
	}
	return fmt.Errorf("auth: role %q: %w", actual, errs.ErrForbidden)
}
