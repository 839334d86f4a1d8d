package registry

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of a session's conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is the mutable per-connection state. Get returns copies; the
// registry-owned value is only touched under its entry lock.
type Session struct {
	ID           string
	AgentID      string
	CreatedAt    time.Time
	MessageCount int
	History      []Turn
	AudioBuffer  []byte
}

// Conn is the transport handle stored with a session. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type entry struct {
	mu        sync.Mutex
	conn      Conn
	state     Session
	closeOnce sync.Once
}

// Registry is the single source of truth for live sessions. The outer lock
// guards only the map; each entry carries its own lock, so operations on
// different sessions never contend.
type Registry struct {
	mu           sync.RWMutex
	entries      map[string]*entry
	writeTimeout time.Duration
	log          *slog.Logger
}

func New(log *slog.Logger, writeTimeout time.Duration) *Registry {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Registry{
		entries:      make(map[string]*entry),
		writeTimeout: writeTimeout,
		log:          log.With(slog.String("component", "session-registry")),
	}
}

// Create mints a fresh session identity, stores the connection handle and
// initial state, and returns the identity. Safe for concurrent use; two
// calls never return the same identity.
func (r *Registry) Create(conn Conn, agentID string) string {
	e := &entry{conn: conn}

	r.mu.Lock()
	id := uuid.NewString()
	for {
		if _, taken := r.entries[id]; !taken {
			break
		}
		id = uuid.NewString()
	}
	e.state = Session{
		ID:        id,
		AgentID:   agentID,
		CreatedAt: time.Now().UTC(),
	}
	r.entries[id] = e
	r.mu.Unlock()

	return id
}

// Remove releases the session's connection handle and discards its state.
// Removing an absent identity is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	e := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()

	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if err := e.conn.Close(); err != nil {
			r.log.Debug("close connection", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		}
	})
}

// Send serializes the envelope and writes it to the session's connection.
// A missing session is a silent no-op: teardown racing an in-flight send is
// expected and benign. A write failure on a live connection is returned so
// the owning controller can log it.
func (r *Registry) Send(sessionID string, envelope any) error {
	r.mu.RLock()
	e := r.entries[sessionID]
	r.mu.RUnlock()
	if e == nil {
		return nil
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout)); err != nil {
		return err
	}
	return e.conn.WriteMessage(websocket.TextMessage, data)
}

// Get returns a snapshot copy of the session state.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.RLock()
	e := r.entries[sessionID]
	r.mu.RUnlock()
	if e == nil {
		return Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.state), true
}

// Update applies fn to the session state under its entry lock. Updating an
// absent session is a no-op and returns false.
func (r *Registry) Update(sessionID string, fn func(*Session)) bool {
	r.mu.RLock()
	e := r.entries[sessionID]
	r.mu.RUnlock()
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
	return true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close tears down every remaining session. Used on runtime shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	remaining := make([]string, 0, len(r.entries))
	for id := range r.entries {
		remaining = append(remaining, id)
	}
	r.mu.Unlock()

	for _, id := range remaining {
		r.Remove(id)
	}
}

func snapshot(s Session) Session {
	out := s
	out.History = append([]Turn(nil), s.History...)
	out.AudioBuffer = append([]byte(nil), s.AudioBuffer...)
	return out
}
