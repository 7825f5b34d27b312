// Package directory tracks which users and providers currently hold an open
// real-time channel. Entries are process-local and never persisted: a restart
// drops every connection by design, and callers treat "not connected" as a
// normal state, not an error.
package directory

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrNoSession is returned when the target id has no active channel.
var ErrNoSession = errors.New("directory: no active session")

// Conn is the slice of a websocket connection the directory needs. Satisfied
// by *websocket.Conn.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session is one live channel. Writes are serialized with a per-session mutex
// because gorilla connections do not allow concurrent writers.
type Session struct {
	id          string
	conn        Conn
	mu          sync.Mutex
	connectedAt time.Time
}

// Send pushes one event envelope down the channel.
func (s *Session) Send(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(map[string]any{"event": event, "data": data})
}

func (s *Session) Close() error { return s.conn.Close() }

// Directory maps canonical entity ids to their single active session. At most
// one entry exists per id; a reconnect replaces and closes the stale handle.
type Directory struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func New() *Directory {
	return &Directory{sessions: make(map[string]*Session)}
}

// CanonicalID normalizes an entity id for directory use. Lookups are exact
// matches on this form; ids must be normalized once here, at the boundary.
func CanonicalID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Register adds a session for id, replacing and closing any stale one.
func (d *Directory) Register(id string, conn Conn) *Session {
	id = CanonicalID(id)
	s := &Session{id: id, conn: conn, connectedAt: time.Now()}
	d.mu.Lock()
	old := d.sessions[id]
	d.sessions[id] = s
	d.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return s
}

// Remove drops the entry for id, but only if s is still the current session.
// A disconnect racing a reconnect must not evict the fresh handle.
func (d *Directory) Remove(id string, s *Session) {
	id = CanonicalID(id)
	d.mu.Lock()
	if d.sessions[id] == s {
		delete(d.sessions, id)
	}
	d.mu.Unlock()
}

// Lookup returns the active session for id, if any.
func (d *Directory) Lookup(id string) (*Session, bool) {
	d.mu.RLock()
	s, ok := d.sessions[CanonicalID(id)]
	d.mu.RUnlock()
	return s, ok
}

// Push sends one event to id, or ErrNoSession when it has no open channel.
func (d *Directory) Push(id, event string, data any) error {
	s, ok := d.Lookup(id)
	if !ok {
		return ErrNoSession
	}
	return s.Send(event, data)
}

// Len reports the number of open sessions, for the connected-channels gauge.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}
