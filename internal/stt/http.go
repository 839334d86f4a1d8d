package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/voxlinelabs/voxline-core/internal/config"
)

// httpTranscriber speaks the OpenAI-compatible /audio/transcriptions API.
type httpTranscriber struct {
	cfg    config.STTConfig
	client *http.Client
}

func NewHTTP(cfg config.STTConfig) Transcriber {
	return &httpTranscriber{cfg: cfg, client: http.DefaultClient}
}

func (t *httpTranscriber) Transcribe(ctx context.Context, audio []byte) (Result, error) {
	if len(audio) == 0 {
		return Result{}, ErrEmptyAudio
	}

	filename := "audio.webm"
	if t.cfg.Input == "pcm_s16le" {
		wrapped, err := pcmToWAV(audio, t.cfg.SampleRate, t.cfg.Channels)
		if err != nil {
			return Result{}, fmt.Errorf("wrap pcm: %w", err)
		}
		audio = wrapped
		filename = "audio.wav"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return Result{}, err
	}
	if _, err := part.Write(audio); err != nil {
		return Result{}, err
	}
	if err := writer.WriteField("model", t.cfg.Model); err != nil {
		return Result{}, err
	}
	if t.cfg.Language != "" {
		if err := writer.WriteField("language", t.cfg.Language); err != nil {
			return Result{}, err
		}
	}
	if err := writer.WriteField("response_format", "text"); err != nil {
		return Result{}, err
	}
	if err := writer.Close(); err != nil {
		return Result{}, err
	}

	url := strings.TrimRight(t.cfg.Endpoint, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("stt endpoint returned status %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return Result{Text: strings.TrimSpace(string(payload))}, nil
}
