// Package presence tracks which users hold a live connection and announces
// online/offline transitions to connected peers.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/duochat/duochat/internal/services/chat/storage"
)

// Broadcaster delivers a presence change to every connected peer.
type Broadcaster interface {
	BroadcastStatus(username string, isOnline bool, lastSeen time.Time)
}

// registry maps authenticated users to connection handles. A user has at
// most one handle; authenticating on a second connection displaces the
// first binding so the old connection's teardown cannot mark the user
// offline.
type registry struct {
	byUser   map[string]string
	byHandle map[string]string
}

func newRegistry() *registry {
	return &registry{
		byUser:   make(map[string]string),
		byHandle: make(map[string]string),
	}
}

// bind associates username with handle, displacing any previous binding for
// either side.
func (r *registry) bind(username, handle string) {
	if prev, ok := r.byUser[username]; ok {
		delete(r.byHandle, prev)
	}
	if prev, ok := r.byHandle[handle]; ok {
		delete(r.byUser, prev)
	}
	r.byUser[username] = handle
	r.byHandle[handle] = username
}

// unbind removes the binding for handle and returns the username it held.
// A handle displaced by a later bind returns ok=false.
func (r *registry) unbind(handle string) (string, bool) {
	username, ok := r.byHandle[handle]
	if !ok {
		return "", false
	}
	delete(r.byHandle, handle)
	delete(r.byUser, username)
	return username, true
}

func (r *registry) lookup(handle string) (string, bool) {
	username, ok := r.byHandle[handle]
	return username, ok
}

// Manager owns the session registry and the presence column of the user
// store. All transitions run under one mutex so the read-modify-broadcast
// sequence is atomic with respect to concurrent connects and disconnects.
type Manager struct {
	mu    sync.Mutex
	reg   *registry
	users storage.UserStore
	bcast Broadcaster
	now   func() time.Time
}

func NewManager(users storage.UserStore, bcast Broadcaster) *Manager {
	return &Manager{
		reg:   newRegistry(),
		users: users,
		bcast: bcast,
		now:   time.Now,
	}
}

// Bind registers handle as username's live connection, marks the user
// online, and announces the change.
func (m *Manager) Bind(ctx context.Context, username, handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reg.bind(username, handle)
	m.setOnline(ctx, username, true)
}

// Unbind tears down handle's binding. If the handle still owned a user the
// user goes offline; a displaced handle is a no-op.
func (m *Manager) Unbind(ctx context.Context, handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	username, ok := m.reg.unbind(handle)
	if !ok {
		return
	}
	m.setOnline(ctx, username, false)
}

// MarkOnline flips a user online without binding a connection. Used by the
// login endpoint, which authenticates before any socket exists.
func (m *Manager) MarkOnline(ctx context.Context, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setOnline(ctx, username, true)
}

// Snapshot reports a user's stored presence.
func (m *Manager) Snapshot(ctx context.Context, username string) (storage.Status, error) {
	return m.users.UserStatus(ctx, username)
}

// Lookup returns the username bound to handle, if any.
func (m *Manager) Lookup(handle string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.reg.lookup(handle)
}

// setOnline persists the transition and broadcasts it. Callers hold m.mu.
func (m *Manager) setOnline(ctx context.Context, username string, online bool) {
	at := m.now().UTC()
	if err := m.users.SetPresence(ctx, username, online, at); err != nil {
		log.Printf("chat: set presence for %s: %v", username, err)
	}
	if m.bcast != nil {
		m.bcast.BroadcastStatus(username, online, at)
	}
}
