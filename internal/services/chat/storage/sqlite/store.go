// Package sqlite provides a SQLite-backed chat storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlitemigrate "github.com/duochat/duochat/internal/platform/storage/sqlitemigrate"
	"github.com/duochat/duochat/internal/services/chat/storage"
	"github.com/duochat/duochat/internal/services/chat/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists chat users and messages in SQLite.
type Store struct {
	sqlDB *sql.DB

	// appendMu serializes timestamp assignment with the insert so sent_at
	// order can never diverge from id order.
	appendMu sync.Mutex
	now      func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite chat store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetUser returns the stored record for username or storage.ErrNotFound.
func (s *Store) GetUser(ctx context.Context, username string) (storage.User, error) {
	if err := ctx.Err(); err != nil {
		return storage.User{}, err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return storage.User{}, fmt.Errorf("username is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT username, password_hash, is_online, last_seen
		   FROM users
		  WHERE username = ?`,
		username,
	)

	var user storage.User
	var online int64
	var seen int64
	if err := row.Scan(&user.Username, &user.PasswordHash, &online, &seen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, storage.ErrNotFound
		}
		return storage.User{}, fmt.Errorf("get user: %w", err)
	}
	user.IsOnline = online != 0
	if seen != 0 {
		user.LastSeen = fromMillis(seen)
	}
	return user, nil
}

// PutUser inserts or replaces a participant record.
func (s *Store) PutUser(ctx context.Context, user storage.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	username := strings.TrimSpace(user.Username)
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if strings.TrimSpace(user.PasswordHash) == "" {
		return fmt.Errorf("password hash is required")
	}

	online := int64(0)
	if user.IsOnline {
		online = 1
	}
	seen := int64(0)
	if !user.LastSeen.IsZero() {
		seen = toMillis(user.LastSeen)
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO users (username, password_hash, is_online, last_seen)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET
		   password_hash = excluded.password_hash`,
		username,
		user.PasswordHash,
		online,
		seen,
	)
	if err != nil {
		return fmt.Errorf("put user: %w: %v", storage.ErrWriteFailed, err)
	}
	return nil
}

// SetPresence updates is_online and last_seen for username. Updating an
// unknown username changes no rows and returns nil.
func (s *Store) SetPresence(ctx context.Context, username string, online bool, seen time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil
	}

	onlineValue := int64(0)
	if online {
		onlineValue = 1
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE users SET is_online = ?, last_seen = ? WHERE username = ?`,
		onlineValue,
		toMillis(seen),
		username,
	)
	if err != nil {
		return fmt.Errorf("set presence: %w: %v", storage.ErrWriteFailed, err)
	}
	return nil
}

// UserStatus returns a presence snapshot, zero-valued for unknown users.
func (s *Store) UserStatus(ctx context.Context, username string) (storage.Status, error) {
	user, err := s.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Status{}, nil
		}
		return storage.Status{}, err
	}
	return storage.Status{IsOnline: user.IsOnline, LastSeen: user.LastSeen}, nil
}

// AppendMessage persists one message with a store-assigned id and
// timestamp and returns the stored record.
func (s *Store) AppendMessage(ctx context.Context, sender, receiver, body string) (storage.Message, error) {
	if err := ctx.Err(); err != nil {
		return storage.Message{}, err
	}
	sender = strings.TrimSpace(sender)
	receiver = strings.TrimSpace(receiver)
	if sender == "" || receiver == "" {
		return storage.Message{}, fmt.Errorf("sender and receiver are required")
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	sentAt := s.now().UTC()
	result, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO messages (sender, receiver, body, sent_at) VALUES (?, ?, ?, ?)`,
		sender,
		receiver,
		body,
		toMillis(sentAt),
	)
	if err != nil {
		return storage.Message{}, fmt.Errorf("append message: %w: %v", storage.ErrWriteFailed, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storage.Message{}, fmt.Errorf("append message id: %w: %v", storage.ErrWriteFailed, err)
	}

	return storage.Message{
		ID:       id,
		Sender:   sender,
		Receiver: receiver,
		Body:     body,
		SentAt:   fromMillis(toMillis(sentAt)),
	}, nil
}

// History returns every message involving username in ascending order.
func (s *Store) History(ctx context.Context, username string) ([]storage.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, sender, receiver, body, sent_at
		   FROM messages
		  WHERE sender = ? OR receiver = ?
		  ORDER BY sent_at ASC, id ASC`,
		username,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var history []storage.Message
	for rows.Next() {
		var msg storage.Message
		var sentAt int64
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Body, &sentAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		msg.SentAt = fromMillis(sentAt)
		history = append(history, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return history, nil
}

// ClearMessages deletes every message unconditionally.
func (s *Store) ClearMessages(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w: %v", storage.ErrWriteFailed, err)
	}
	return nil
}
