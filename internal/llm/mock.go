package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMock() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	if err := validateRequest(req); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	last := req.Messages[len(req.Messages)-1]
	content := "[mock reply to " + strings.TrimSpace(last.Content) + "]"
	return consumer(Chunk{
		Content: content,
		Partial: false,
		Latency: 20 * time.Millisecond,
	})
}
