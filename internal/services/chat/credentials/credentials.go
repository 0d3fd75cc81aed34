// Package credentials verifies participant passwords and maintains the
// stored presence flags behind a single generic failure mode.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/duochat/duochat/internal/services/chat/storage"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for every verification failure. Callers
// never learn whether the username or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// SeedUser is one fixed participant provisioned at process start.
type SeedUser struct {
	Username string
	Password string
}

// Verifier checks passwords against the user store and updates presence.
type Verifier struct {
	users storage.UserStore
	now   func() time.Time
}

// NewVerifier builds a Verifier over the given user store.
func NewVerifier(users storage.UserStore) *Verifier {
	return &Verifier{users: users, now: time.Now}
}

// Seed hashes each fixed participant's password with bcrypt and upserts the
// account. Reseeding an existing account refreshes only the hash.
func (v *Verifier) Seed(ctx context.Context, seeds []SeedUser) error {
	for _, seed := range seeds {
		username := strings.TrimSpace(seed.Username)
		if username == "" || seed.Password == "" {
			return fmt.Errorf("seed user requires username and password")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash seed password: %w", err)
		}
		if err := v.users.PutUser(ctx, storage.User{Username: username, PasswordHash: string(hash)}); err != nil {
			return fmt.Errorf("store seed user %s: %w", username, err)
		}
	}
	return nil
}

// Verify looks up username and compares password against the stored bcrypt
// hash. Any failure, lookup or comparison, collapses into
// ErrInvalidCredentials.
func (v *Verifier) Verify(ctx context.Context, username, password string) (storage.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return storage.User{}, ErrInvalidCredentials
	}

	user, err := v.users.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.User{}, ErrInvalidCredentials
		}
		return storage.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return storage.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// MarkOnline sets the user online and refreshes last_seen. Unknown
// usernames are a silent no-op.
func (v *Verifier) MarkOnline(ctx context.Context, username string) error {
	return v.users.SetPresence(ctx, username, true, v.now().UTC())
}

// MarkOffline sets the user offline and refreshes last_seen. Unknown
// usernames are a silent no-op.
func (v *Verifier) MarkOffline(ctx context.Context, username string) error {
	return v.users.SetPresence(ctx, username, false, v.now().UTC())
}

// StatusOf returns the stored presence snapshot, zero-valued for unknown
// users.
func (v *Verifier) StatusOf(ctx context.Context, username string) (storage.Status, error) {
	return v.users.UserStatus(ctx, username)
}
