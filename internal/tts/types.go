package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/voxlinelabs/voxline-core/internal/config"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// SynthChunk carries one slice of encoded audio. Final marks the last
// chunk of the utterance.
type SynthChunk struct {
	SessionID string
	Sequence  int
	Audio     []byte
	Final     bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

var (
	ErrEmptyText  = errors.New("synthesis text is empty")
	ErrEmptyVoice = errors.New("synthesis voice is empty")
)

func validateRequest(req SynthRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	if strings.TrimSpace(req.Voice) == "" {
		return ErrEmptyVoice
	}
	return nil
}

// New builds the synthesizer selected by cfg.Mode.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(cfg.ChunkBytes), nil
	case "elevenlabs":
		return NewElevenLabs(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.ChunkBytes), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}
