package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxlinelabs/voxline-core/internal/agents"
	"github.com/voxlinelabs/voxline-core/internal/config"
	"github.com/voxlinelabs/voxline-core/internal/eventstore"
	"github.com/voxlinelabs/voxline-core/internal/llm"
	"github.com/voxlinelabs/voxline-core/internal/pipeline"
	"github.com/voxlinelabs/voxline-core/internal/protocol"
	"github.com/voxlinelabs/voxline-core/internal/registry"
	"github.com/voxlinelabs/voxline-core/internal/stt"
	"github.com/voxlinelabs/voxline-core/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	catalog, err := agents.Load("")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New(newLogger(), time.Second)
	t.Cleanup(reg.Close)

	transcriber, _ := stt.New(config.STTConfig{Mode: "mock"})
	dispatcher := pipeline.NewDispatcher(reg, catalog, transcriber, llm.NewMock(), tts.NewMockSynth(64),
		nil, store, config.LLMConfig{Mode: "mock", HistoryTurns: 10}, newLogger())

	gw := New(config.GatewayConfig{
		ReadLimitBytes: 1 << 20,
		WriteTimeoutMS: 1000,
		IdleTimeoutMS:  5000,
	}, reg, catalog, dispatcher, newLogger())

	mux := http.NewServeMux()
	gw.Routes(mux, "voxline-core", "test", func() bool { return true })
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, reg
}

func dial(t *testing.T, server *httptest.Server, agentID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/voice-agent/" + agentID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	return env
}

func sendJSON(t *testing.T, conn *websocket.Conn, payload any) {
	t.Helper()
	if err := conn.WriteJSON(payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func audioFrame(data string, final bool) map[string]any {
	return map[string]any{
		"type":     "audio_chunk",
		"data":     base64.StdEncoding.EncodeToString([]byte(data)),
		"is_final": final,
	}
}

func waitForSessions(t *testing.T, reg *registry.Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if reg.Len() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("registry has %d sessions, want %d", reg.Len(), want)
}

func TestConnectEstablishesSession(t *testing.T) {
	server, reg := newTestServer(t)
	conn := dial(t, server, "receptionist")

	env := readEnvelope(t, conn)
	if env["type"] != protocol.KindConnectionEstablished {
		t.Fatalf("expected connection_established, got %v", env["type"])
	}
	if env["session_id"] == "" || env["session_id"] == nil {
		t.Fatalf("missing session_id: %v", env)
	}
	if env["agent"] != "Receptionist" {
		t.Fatalf("unexpected agent name %v", env["agent"])
	}
	waitForSessions(t, reg, 1)
}

func TestUnknownAgentClosedWithUnsupportedData(t *testing.T) {
	server, reg := newTestServer(t)
	conn := dial(t, server, "nonexistent")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != CloseUnknownAgent {
		t.Fatalf("expected close code %d, got %d", CloseUnknownAgent, closeErr.Code)
	}
	waitForSessions(t, reg, 0)
}

func TestEndSessionTearsDown(t *testing.T) {
	server, reg := newTestServer(t)
	conn := dial(t, server, "sales")
	readEnvelope(t, conn)
	waitForSessions(t, reg, 1)

	sendJSON(t, conn, map[string]any{"type": "end_session"})
	waitForSessions(t, reg, 0)
}

func TestClientDisconnectTearsDown(t *testing.T) {
	server, reg := newTestServer(t)
	conn := dial(t, server, "callcenter")
	readEnvelope(t, conn)
	waitForSessions(t, reg, 1)

	conn.Close()
	waitForSessions(t, reg, 0)
}

func TestMalformedFramesGetErrorAndSessionSurvives(t *testing.T) {
	server, reg := newTestServer(t)
	conn := dial(t, server, "receptionist")
	readEnvelope(t, conn)

	// Not JSON at all.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	env := readEnvelope(t, conn)
	if env["type"] != protocol.KindError {
		t.Fatalf("expected error envelope, got %v", env)
	}

	// Unknown message type names the offender.
	sendJSON(t, conn, map[string]any{"type": "telepathy"})
	env = readEnvelope(t, conn)
	if env["type"] != protocol.KindError {
		t.Fatalf("expected error envelope, got %v", env)
	}
	if msg, _ := env["message"].(string); !strings.Contains(msg, "telepathy") {
		t.Fatalf("error should name the unknown type, got %q", msg)
	}

	// The session still accepts well-formed frames.
	sendJSON(t, conn, audioFrame("frame", false))
	env = readEnvelope(t, conn)
	if env["type"] != protocol.KindStatusUpdate {
		t.Fatalf("expected status_update after recovery, got %v", env)
	}
	waitForSessions(t, reg, 1)
}

func TestFullTurnOverWebSocket(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "receptionist")
	readEnvelope(t, conn)

	sendJSON(t, conn, audioFrame("sixteen khz pcm audio bytes", true))

	env := readEnvelope(t, conn)
	if env["type"] != protocol.KindStatusUpdate || env["status"] != pipeline.StatusProcessing {
		t.Fatalf("expected processing status, got %v", env)
	}
	env = readEnvelope(t, conn)
	if env["type"] != protocol.KindTranscription {
		t.Fatalf("expected transcription, got %v", env)
	}
	env = readEnvelope(t, conn)
	if env["type"] != protocol.KindLLMResponse {
		t.Fatalf("expected llm_response, got %v", env)
	}
	sawFinal := false
	for !sawFinal {
		env = readEnvelope(t, conn)
		if env["type"] != protocol.KindAudioResponse {
			t.Fatalf("expected audio_response, got %v", env)
		}
		if final, _ := env["is_final"].(bool); final {
			sawFinal = true
		}
	}
}

func TestIndexAndHealthRoutes(t *testing.T) {
	server, _ := newTestServer(t)

	for _, path := range []string{"/", "/healthz", "/health", "/readyz"} {
		resp, err := server.Client().Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		if resp.StatusCode != 200 {
			t.Fatalf("GET %s returned %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
