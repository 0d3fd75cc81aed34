package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/duochat/duochat/internal/services/chat/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open temp store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestPutGetUserRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	input := storage.User{Username: "Gauri", PasswordHash: "hash-1"}
	if err := store.PutUser(context.Background(), input); err != nil {
		t.Fatalf("put user: %v", err)
	}

	got, err := store.GetUser(context.Background(), "Gauri")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Username != "Gauri" {
		t.Fatalf("username = %q, want %q", got.Username, "Gauri")
	}
	if got.PasswordHash != "hash-1" {
		t.Fatalf("password_hash = %q, want %q", got.PasswordHash, "hash-1")
	}
	if got.IsOnline {
		t.Fatal("expected new user to start offline")
	}
}

func TestGetUserIsCaseSensitive(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if err := store.PutUser(context.Background(), storage.User{Username: "Gauri", PasswordHash: "hash-1"}); err != nil {
		t.Fatalf("put user: %v", err)
	}

	if _, err := store.GetUser(context.Background(), "gauri"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("lowercase lookup error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestPutUserReseedKeepsPresence(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if err := store.PutUser(context.Background(), storage.User{Username: "Btye", PasswordHash: "hash-1"}); err != nil {
		t.Fatalf("put user: %v", err)
	}
	seen := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
	if err := store.SetPresence(context.Background(), "Btye", true, seen); err != nil {
		t.Fatalf("set presence: %v", err)
	}

	// A process restart reseeds the fixed participants; that must not reset
	// the stored presence snapshot.
	if err := store.PutUser(context.Background(), storage.User{Username: "Btye", PasswordHash: "hash-2"}); err != nil {
		t.Fatalf("reseed user: %v", err)
	}

	got, err := store.GetUser(context.Background(), "Btye")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.PasswordHash != "hash-2" {
		t.Fatalf("password_hash = %q, want updated hash", got.PasswordHash)
	}
	if !got.IsOnline {
		t.Fatal("expected presence flag to survive reseed")
	}
	if !got.LastSeen.Equal(seen) {
		t.Fatalf("last_seen = %v, want %v", got.LastSeen, seen)
	}
}

func TestSetPresenceUnknownUserIsNoOp(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if err := store.SetPresence(context.Background(), "nobody", true, time.Now()); err != nil {
		t.Fatalf("set presence on unknown user: %v", err)
	}

	status, err := store.UserStatus(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("user status: %v", err)
	}
	if status.IsOnline || !status.LastSeen.IsZero() {
		t.Fatalf("expected zero status for unknown user, got %+v", status)
	}
}

func TestUserStatusReflectsPresenceUpdates(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if err := store.PutUser(context.Background(), storage.User{Username: "Gauri", PasswordHash: "hash-1"}); err != nil {
		t.Fatalf("put user: %v", err)
	}

	online := time.Date(2026, time.August, 30, 9, 0, 0, 0, time.UTC)
	if err := store.SetPresence(context.Background(), "Gauri", true, online); err != nil {
		t.Fatalf("mark online: %v", err)
	}
	status, err := store.UserStatus(context.Background(), "Gauri")
	if err != nil {
		t.Fatalf("user status: %v", err)
	}
	if !status.IsOnline || !status.LastSeen.Equal(online) {
		t.Fatalf("online status = %+v, want online at %v", status, online)
	}

	offline := online.Add(time.Hour)
	if err := store.SetPresence(context.Background(), "Gauri", false, offline); err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	status, err = store.UserStatus(context.Background(), "Gauri")
	if err != nil {
		t.Fatalf("user status: %v", err)
	}
	if status.IsOnline || !status.LastSeen.Equal(offline) {
		t.Fatalf("offline status = %+v, want offline at %v", status, offline)
	}
}

func TestAppendMessageAssignsServerIDAndTimestamp(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	before := time.Now().UTC().Truncate(time.Millisecond)

	msg, err := store.AppendMessage(context.Background(), "Gauri", "Btye", "hello")
	if err != nil {
		t.Fatalf("append message: %v", err)
	}
	if msg.ID <= 0 {
		t.Fatalf("id = %d, want positive", msg.ID)
	}
	if msg.SentAt.Before(before) {
		t.Fatalf("sent_at = %v, want >= %v", msg.SentAt, before)
	}
	if msg.Sender != "Gauri" || msg.Receiver != "Btye" || msg.Body != "hello" {
		t.Fatalf("stored message = %+v", msg)
	}
}

func TestAppendThenHistoryContainsMessageOnce(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	sent, err := store.AppendMessage(context.Background(), "Gauri", "Btye", "hello")
	if err != nil {
		t.Fatalf("append message: %v", err)
	}

	for _, participant := range []string{"Gauri", "Btye"} {
		history, err := store.History(context.Background(), participant)
		if err != nil {
			t.Fatalf("history for %s: %v", participant, err)
		}
		if len(history) != 1 {
			t.Fatalf("history for %s has %d messages, want 1", participant, len(history))
		}
		if history[0].ID != sent.ID {
			t.Fatalf("history id = %d, want %d", history[0].ID, sent.ID)
		}
		if !history[0].SentAt.Equal(sent.SentAt) {
			t.Fatalf("history sent_at = %v, want %v", history[0].SentAt, sent.SentAt)
		}
	}
}

func TestHistoryExcludesOtherConversations(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if _, err := store.AppendMessage(context.Background(), "Gauri", "Btye", "for btye"); err != nil {
		t.Fatalf("append message: %v", err)
	}
	if _, err := store.AppendMessage(context.Background(), "someone", "else", "unrelated"); err != nil {
		t.Fatalf("append unrelated message: %v", err)
	}

	history, err := store.History(context.Background(), "Btye")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history has %d messages, want 1", len(history))
	}
	if history[0].Body != "for btye" {
		t.Fatalf("history body = %q", history[0].Body)
	}
}

func TestHistoryOrdersByTimestampThenInsertion(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	fixed := time.Date(2026, time.August, 30, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	first, err := store.AppendMessage(context.Background(), "Gauri", "Btye", "first")
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	second, err := store.AppendMessage(context.Background(), "Btye", "Gauri", "second")
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if !first.SentAt.Equal(second.SentAt) {
		t.Fatalf("fixture timestamps differ: %v vs %v", first.SentAt, second.SentAt)
	}

	store.now = func() time.Time { return fixed.Add(time.Minute) }
	third, err := store.AppendMessage(context.Background(), "Gauri", "Btye", "third")
	if err != nil {
		t.Fatalf("append third: %v", err)
	}

	history, err := store.History(context.Background(), "Gauri")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history has %d messages, want 3", len(history))
	}
	if history[0].ID != first.ID || history[1].ID != second.ID || history[2].ID != third.ID {
		t.Fatalf("history order = [%d %d %d], want [%d %d %d]",
			history[0].ID, history[1].ID, history[2].ID, first.ID, second.ID, third.ID)
	}
}

func TestClearMessagesThenAppendRepopulates(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if _, err := store.AppendMessage(context.Background(), "Gauri", "Btye", "old"); err != nil {
		t.Fatalf("append message: %v", err)
	}

	if err := store.ClearMessages(context.Background()); err != nil {
		t.Fatalf("clear messages: %v", err)
	}
	history, err := store.History(context.Background(), "Gauri")
	if err != nil {
		t.Fatalf("history after clear: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("history has %d messages after clear, want 0", len(history))
	}

	if _, err := store.AppendMessage(context.Background(), "Btye", "Gauri", "new"); err != nil {
		t.Fatalf("append after clear: %v", err)
	}
	history, err = store.History(context.Background(), "Gauri")
	if err != nil {
		t.Fatalf("history after repopulate: %v", err)
	}
	if len(history) != 1 || history[0].Body != "new" {
		t.Fatalf("history after repopulate = %+v", history)
	}
}

func TestAppendMessageRejectsCancelledContext(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.AppendMessage(ctx, "Gauri", "Btye", "late"); err == nil {
		t.Fatal("expected cancelled context error")
	}
}
