package stt

import (
	"context"
	"fmt"
)

type mockTranscriber struct{}

func NewMock() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Transcribe(_ context.Context, audio []byte) (Result, error) {
	if len(audio) == 0 {
		return Result{}, ErrEmptyAudio
	}
	return Result{
		Text:       fmt.Sprintf("[mock transcript length=%d]", len(audio)),
		Confidence: 0,
	}, nil
}
