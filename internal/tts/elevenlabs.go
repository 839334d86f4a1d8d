package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type elevenLabsSynth struct {
	endpoint   string
	apiKey     string
	model      string
	chunkBytes int
	client     *http.Client
}

type elevenLabsRequest struct {
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id"`
	VoiceSettings elevenLabsVoiceOpts `json:"voice_settings"`
}

type elevenLabsVoiceOpts struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func NewElevenLabs(endpoint, apiKey, model string, chunkBytes int) Synthesizer {
	if chunkBytes <= 0 {
		chunkBytes = 4096
	}
	return &elevenLabsSynth{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		chunkBytes: chunkBytes,
		client:     http.DefaultClient,
	}
}

func (e *elevenLabsSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := validateRequest(req); err != nil {
			errs <- err
			return
		}

		payload := elevenLabsRequest{
			Text:    req.Text,
			ModelID: e.model,
			VoiceSettings: elevenLabsVoiceOpts{
				Stability:       0.5,
				SimilarityBoost: 0.75,
			},
		}
		body, err := json.Marshal(payload)
		if err != nil {
			errs <- err
			return
		}

		url := fmt.Sprintf("%s/text-to-speech/%s/stream", e.endpoint, req.Voice)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			errs <- err
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "audio/mpeg")
		httpReq.Header.Set("xi-api-key", e.apiKey)

		resp, err := e.client.Do(httpReq)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			errs <- fmt.Errorf("elevenlabs returned status %s: %s", resp.Status, bytes.TrimSpace(detail))
			return
		}

		// Read one chunk ahead so the chunk that drains the stream can be
		// marked Final.
		sequence := 0
		pending, pendingErr := readChunk(resp.Body, e.chunkBytes)
		for pending != nil {
			next, nextErr := readChunk(resp.Body, e.chunkBytes)
			chunk := SynthChunk{
				SessionID: req.SessionID,
				Sequence:  sequence,
				Audio:     pending,
				Final:     next == nil && nextErr == nil,
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case chunks <- chunk:
			}
			sequence++
			pending, pendingErr = next, nextErr
		}
		if pendingErr != nil {
			errs <- pendingErr
		}
	}()
	return chunks, errs
}

// readChunk returns up to size bytes, nil at clean EOF.
func readChunk(r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	n, err := io.ReadFull(r, buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, nil
	}
	return nil, err
}
