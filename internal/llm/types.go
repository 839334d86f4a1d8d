package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/voxlinelabs/voxline-core/internal/config"
)

// Conversation message roles understood by backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn handed to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a generation call. Messages excludes the system prompt;
// backends prepend System themselves in whatever shape their API wants.
type Request struct {
	Messages    []Message
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Chunk represents streamed model output.
type Chunk struct {
	Content string
	Partial bool
	Latency time.Duration
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

var (
	ErrEmptyPrompt  = errors.New("system prompt is empty")
	ErrEmptyMessage = errors.New("user message is empty")
)

func validateRequest(req Request) error {
	if strings.TrimSpace(req.System) == "" {
		return ErrEmptyPrompt
	}
	if len(req.Messages) == 0 {
		return ErrEmptyMessage
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != RoleUser || strings.TrimSpace(last.Content) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// New builds the generator selected by cfg.Mode.
func New(cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(), nil
	case "ollama":
		return NewOllama(cfg.Endpoint), nil
	case "exec":
		return NewExec(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}
