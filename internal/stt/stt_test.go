package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxlinelabs/voxline-core/internal/config"
)

func TestMockTranscribe(t *testing.T) {
	tr := NewMock()
	result, err := tr.Transcribe(context.Background(), []byte("audio-bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text == "" {
		t.Fatal("expected transcript text")
	}
}

func TestMockRejectsEmptyAudio(t *testing.T) {
	tr := NewMock()
	if _, err := tr.Transcribe(context.Background(), nil); err != ErrEmptyAudio {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestHTTPTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %s", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("unexpected model: %s", got)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
		} else {
			payload, _ := io.ReadAll(file)
			if string(payload) != "fake-webm" {
				t.Errorf("unexpected audio payload: %q", payload)
			}
			file.Close()
		}
		io.WriteString(w, "hello world\n")
	}))
	defer server.Close()

	tr := NewHTTP(config.STTConfig{
		Mode:     "http",
		Endpoint: server.URL,
		APIKey:   "sk-test",
		Model:    "whisper-1",
		Language: "en",
		Input:    "container",
	})
	result, err := tr.Transcribe(context.Background(), []byte("fake-webm"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "hello world" {
		t.Fatalf("unexpected transcript: %q", result.Text)
	}
}

func TestHTTPTranscribeUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := NewHTTP(config.STTConfig{Mode: "http", Endpoint: server.URL, Model: "whisper-1", Input: "container"})
	_, err := tr.Transcribe(context.Background(), []byte("fake-webm"))
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestPCMToWAV(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80, 0x01, 0x00}
	out, err := pcmToWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) <= len(pcm) {
		t.Fatalf("expected container overhead, got %d bytes", len(out))
	}
	if string(out[:4]) != "RIFF" {
		t.Fatalf("expected RIFF header, got %q", out[:4])
	}
}

func TestPCMToWAVRejectsUnaligned(t *testing.T) {
	if _, err := pcmToWAV([]byte{0x01}, 16000, 1); err == nil {
		t.Fatal("expected alignment error")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	if _, err := New(config.STTConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := New(config.STTConfig{Mode: "exec", Command: "whisper-cli --fast"}); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if _, err := New(config.STTConfig{Mode: "hologram"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
