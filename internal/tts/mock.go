package tts

import (
	"context"
	"time"
)

type mockSynth struct {
	chunkBytes int
}

func NewMockSynth(chunkBytes int) Synthesizer {
	if chunkBytes <= 0 {
		chunkBytes = 64
	}
	return &mockSynth{chunkBytes: chunkBytes}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 4)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := validateRequest(req); err != nil {
			errs <- err
			return
		}
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(30 * time.Millisecond):
		}
		// Deterministic filler audio sized off the text, split like a
		// streaming backend would split it.
		audio := make([]byte, len(req.Text)*8)
		for i := range audio {
			audio[i] = byte(i % 251)
		}
		sequence := 0
		for offset := 0; offset < len(audio); offset += m.chunkBytes {
			end := offset + m.chunkBytes
			if end > len(audio) {
				end = len(audio)
			}
			chunk := SynthChunk{
				SessionID: req.SessionID,
				Sequence:  sequence,
				Audio:     audio[offset:end],
				Final:     end == len(audio),
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case chunks <- chunk:
			}
			sequence++
		}
	}()
	return chunks, errs
}
