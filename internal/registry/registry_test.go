package registry

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed int
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newRegistry() *Registry {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(log, time.Second)
}

func TestCreateInitializesState(t *testing.T) {
	r := newRegistry()
	id := r.Create(&fakeConn{}, "receptionist")
	if id == "" {
		t.Fatal("expected session id")
	}

	state, ok := r.Get(id)
	if !ok {
		t.Fatal("expected session present")
	}
	if state.AgentID != "receptionist" {
		t.Fatalf("unexpected agent: %s", state.AgentID)
	}
	if state.MessageCount != 0 || len(state.History) != 0 || len(state.AudioBuffer) != 0 {
		t.Fatalf("expected empty initial state, got %+v", state)
	}
	if state.CreatedAt.IsZero() || state.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC creation time, got %v", state.CreatedAt)
	}
}

func TestConcurrentCreateUniqueIdentities(t *testing.T) {
	r := newRegistry()
	const n = 10000

	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.Create(&fakeConn{}, "sales")
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id: %s", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != n {
		t.Fatalf("expected %d identities, got %d", n, len(seen))
	}
	if r.Len() != n {
		t.Fatalf("expected %d live sessions, got %d", n, r.Len())
	}
}

func TestRemoveIdempotent(t *testing.T) {
	r := newRegistry()
	conn := &fakeConn{}
	id := r.Create(conn, "callcenter")

	r.Remove(id)
	r.Remove(id)
	r.Remove("never-existed")

	if _, ok := r.Get(id); ok {
		t.Fatal("expected session gone")
	}
	if conn.closeCount() != 1 {
		t.Fatalf("expected exactly one close, got %d", conn.closeCount())
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestSendToAbsentSessionIsNoop(t *testing.T) {
	r := newRegistry()
	if err := r.Send("ghost", map[string]string{"type": "status_update"}); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
}

func TestSendWritesJSONFrame(t *testing.T) {
	r := newRegistry()
	conn := &fakeConn{}
	id := r.Create(conn, "sales")

	if err := r.Send(id, map[string]string{"type": "status_update", "status": "processing"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(conn.frames))
	}
	var decoded map[string]string
	if err := json.Unmarshal(conn.frames[0], &decoded); err != nil {
		t.Fatalf("frame not json: %v", err)
	}
	if decoded["status"] != "processing" {
		t.Fatalf("unexpected frame: %v", decoded)
	}
}

func TestUpdateAbsentSessionIsNoop(t *testing.T) {
	r := newRegistry()
	called := false
	if r.Update("ghost", func(*Session) { called = true }) {
		t.Fatal("expected false for absent session")
	}
	if called {
		t.Fatal("mutator must not run for absent session")
	}
	if r.Len() != 0 {
		t.Fatal("registry must be unchanged")
	}
}

func TestUpdatePreservesUntouchedFields(t *testing.T) {
	r := newRegistry()
	id := r.Create(&fakeConn{}, "receptionist")

	r.Update(id, func(s *Session) {
		s.MessageCount++
		s.AudioBuffer = append(s.AudioBuffer, 0x01, 0x02)
	})
	r.Update(id, func(s *Session) {
		s.History = append(s.History, Turn{Role: RoleUser, Content: "hello"})
	})

	state, _ := r.Get(id)
	if state.MessageCount != 1 {
		t.Fatalf("expected counter 1, got %d", state.MessageCount)
	}
	if len(state.AudioBuffer) != 2 {
		t.Fatalf("expected buffer preserved, got %d bytes", len(state.AudioBuffer))
	}
	if len(state.History) != 1 || state.History[0].Content != "hello" {
		t.Fatalf("unexpected history: %+v", state.History)
	}
	if state.AgentID != "receptionist" {
		t.Fatal("agent id must be immutable across updates")
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := newRegistry()
	id := r.Create(&fakeConn{}, "sales")
	r.Update(id, func(s *Session) {
		s.History = append(s.History, Turn{Role: RoleUser, Content: "hi"})
	})

	snap, _ := r.Get(id)
	snap.History[0].Content = "mutated"
	snap.AudioBuffer = append(snap.AudioBuffer, 0xFF)

	fresh, _ := r.Get(id)
	if fresh.History[0].Content != "hi" {
		t.Fatal("snapshot mutation leaked into registry state")
	}
	if len(fresh.AudioBuffer) != 0 {
		t.Fatal("snapshot buffer mutation leaked into registry state")
	}
}

func TestConcurrentUpdatesSameSession(t *testing.T) {
	r := newRegistry()
	id := r.Create(&fakeConn{}, "callcenter")

	const n = 500
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Update(id, func(s *Session) { s.MessageCount++ })
		}()
	}
	wg.Wait()

	state, _ := r.Get(id)
	if state.MessageCount != n {
		t.Fatalf("lost updates: expected %d, got %d", n, state.MessageCount)
	}
}

func TestCloseRemovesAll(t *testing.T) {
	r := newRegistry()
	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = &fakeConn{}
		r.Create(conns[i], "sales")
	}

	r.Close()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
	for i, c := range conns {
		if c.closeCount() != 1 {
			t.Fatalf("conn %d closed %d times", i, c.closeCount())
		}
	}
}
