package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxlinelabs/voxline-core/internal/config"
)

// ErrEmptyAudio is returned when a backend is handed zero audio bytes.
var ErrEmptyAudio = errors.New("audio payload is empty")

// Result captures transcriber output.
type Result struct {
	Text       string
	Confidence float64
}

// Transcriber abstracts STT backends.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (Result, error)
}

// New builds the transcriber selected by cfg.Mode.
func New(cfg config.STTConfig) (Transcriber, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(), nil
	case "http":
		return NewHTTP(cfg), nil
	case "exec":
		return NewExec(cfg)
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
