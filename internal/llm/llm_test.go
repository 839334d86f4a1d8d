package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxlinelabs/voxline-core/internal/config"
)

func TestMockGeneratorEchoesLastTurn(t *testing.T) {
	gen := NewMock()
	var got []Chunk
	err := gen.Generate(context.Background(), Request{
		System:   "You are a receptionist.",
		Messages: []Message{{Role: RoleUser, Content: "book a room"}},
	}, func(c Chunk) error {
		got = append(got, c)
		return nil
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one chunk, got %d", len(got))
	}
	if got[0].Partial {
		t.Fatalf("mock chunk should be final")
	}
	if !strings.Contains(got[0].Content, "book a room") {
		t.Fatalf("reply %q does not reference the prompt", got[0].Content)
	}
}

func TestValidateRequest(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want error
	}{
		{
			name: "missing system prompt",
			req:  Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}},
			want: ErrEmptyPrompt,
		},
		{
			name: "no messages",
			req:  Request{System: "persona"},
			want: ErrEmptyMessage,
		},
		{
			name: "last turn not from user",
			req: Request{
				System:   "persona",
				Messages: []Message{{Role: RoleAssistant, Content: "hello"}},
			},
			want: ErrEmptyMessage,
		},
		{
			name: "blank user turn",
			req: Request{
				System:   "persona",
				Messages: []Message{{Role: RoleUser, Content: "   "}},
			},
			want: ErrEmptyMessage,
		},
	}
	gen := NewMock()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := gen.Generate(context.Background(), tc.req, func(Chunk) error {
				t.Fatalf("consumer should not run for invalid request")
				return nil
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestOllamaGeneratorStreams(t *testing.T) {
	var captured ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		lines := []ollamaChatResponse{
			{Message: ollamaMessage{Role: RoleAssistant, Content: "Good "}, Done: false},
			{Message: ollamaMessage{Role: RoleAssistant, Content: "morning."}, Done: true},
		}
		enc := json.NewEncoder(w)
		for _, line := range lines {
			if err := enc.Encode(line); err != nil {
				t.Errorf("encode line: %v", err)
			}
		}
	}))
	defer server.Close()

	gen := NewOllama(server.URL)
	var got []Chunk
	err := gen.Generate(context.Background(), Request{
		System:      "You greet callers.",
		Model:       "llama3.2:latest",
		MaxTokens:   150,
		Temperature: 0.7,
		Messages:    []Message{{Role: RoleUser, Content: "good morning"}},
	}, func(c Chunk) error {
		got = append(got, c)
		return nil
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if !got[0].Partial || got[1].Partial {
		t.Fatalf("expected partial then final chunk, got %+v", got)
	}
	if got[0].Content+got[1].Content != "Good morning." {
		t.Fatalf("unexpected assembled reply %q", got[0].Content+got[1].Content)
	}

	if !captured.Stream {
		t.Fatalf("request should ask for streaming")
	}
	if captured.Model != "llama3.2:latest" {
		t.Fatalf("unexpected model %q", captured.Model)
	}
	if captured.Options.NumPredict != 150 || captured.Options.Temperature != 0.7 {
		t.Fatalf("options not forwarded: %+v", captured.Options)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != RoleSystem {
		t.Fatalf("system prompt not prepended: %+v", captured.Messages)
	}
}

func TestOllamaGeneratorSurfacesUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	gen := NewOllama(server.URL)
	err := gen.Generate(context.Background(), Request{
		System:   "persona",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, func(Chunk) error { return nil })
	if err == nil {
		t.Fatalf("expected error from upstream 404")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	if _, err := New(config.LLMConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock mode failed: %v", err)
	}
	if _, err := New(config.LLMConfig{Mode: "ollama", Endpoint: "http://localhost:11434"}); err != nil {
		t.Fatalf("ollama mode failed: %v", err)
	}
	if _, err := New(config.LLMConfig{Mode: "exec", Command: "reply-bot --fast"}); err != nil {
		t.Fatalf("exec mode failed: %v", err)
	}
	if _, err := New(config.LLMConfig{Mode: "banana"}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
