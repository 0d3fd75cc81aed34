// Package storage defines persistence contracts for chat service state.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrWriteFailed indicates the underlying store rejected a write.
	ErrWriteFailed = errors.New("store write failed")
)

// User stores one seeded participant account.
type User struct {
	Username     string
	PasswordHash string
	IsOnline     bool
	LastSeen     time.Time
}

// Message stores one persisted chat message. ID and SentAt are assigned by
// the store at append time; records are immutable once written.
type Message struct {
	ID       int64
	Sender   string
	Receiver string
	Body     string
	SentAt   time.Time
}

// Status is a read-only presence snapshot. Unknown users yield the zero
// value (offline, zero LastSeen) rather than an error.
type Status struct {
	IsOnline bool
	LastSeen time.Time
}

// UserStore persists participant accounts and their presence flags.
type UserStore interface {
	// GetUser returns the stored record for username or ErrNotFound.
	GetUser(ctx context.Context, username string) (User, error)
	// PutUser inserts or replaces a participant record.
	PutUser(ctx context.Context, user User) error
	// SetPresence updates is_online and last_seen. Unknown usernames are a
	// silent no-op: disconnect events may race with process state.
	SetPresence(ctx context.Context, username string, online bool, seen time.Time) error
	// UserStatus returns a presence snapshot, zero-valued for unknown users.
	UserStatus(ctx context.Context, username string) (Status, error)
}

// MessageStore persists the append-only message log. The store is the
// ordering authority: it serializes timestamp assignment with the insert so
// sent_at never decreases relative to id order.
type MessageStore interface {
	// AppendMessage persists one message, assigning its ID and timestamp,
	// and returns exactly what was stored.
	AppendMessage(ctx context.Context, sender, receiver, body string) (Message, error)
	// History returns every message where username is sender or receiver,
	// ordered by sent_at ascending with id as the tie-break.
	History(ctx context.Context, username string) ([]Message, error)
	// ClearMessages deletes every message unconditionally.
	ClearMessages(ctx context.Context) error
}

// Store combines both persistence contracts; the SQLite implementation
// backs them with a single database file.
type Store interface {
	UserStore
	MessageStore
}
