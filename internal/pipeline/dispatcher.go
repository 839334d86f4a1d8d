package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxlinelabs/voxline-core/internal/agents"
	"github.com/voxlinelabs/voxline-core/internal/bus"
	"github.com/voxlinelabs/voxline-core/internal/config"
	"github.com/voxlinelabs/voxline-core/internal/eventstore"
	"github.com/voxlinelabs/voxline-core/internal/llm"
	"github.com/voxlinelabs/voxline-core/internal/protocol"
	"github.com/voxlinelabs/voxline-core/internal/registry"
	"github.com/voxlinelabs/voxline-core/internal/stt"
	"github.com/voxlinelabs/voxline-core/internal/tts"
)

// Status values pushed to the client while a turn moves through the pipeline.
const (
	StatusListening  = "listening"
	StatusProcessing = "processing"
)

// Dispatcher runs one conversation turn end to end: buffered audio through
// the transcriber, the agent's LLM, and the synthesizer, pushing results to
// the session as they arrive. Collaborator failures abort the turn and
// surface an error envelope; the session itself stays up.
type Dispatcher struct {
	registry *registry.Registry
	catalog  *agents.Catalog
	stt      stt.Transcriber
	llm      llm.Generator
	tts      tts.Synthesizer
	bus      *bus.Client
	store    *eventstore.Store
	llmCfg   config.LLMConfig
	log      *slog.Logger
	tracer   trace.Tracer

	turnCounter    metric.Int64Counter
	failureCounter metric.Int64Counter
}

func NewDispatcher(
	reg *registry.Registry,
	catalog *agents.Catalog,
	transcriber stt.Transcriber,
	generator llm.Generator,
	synth tts.Synthesizer,
	busClient *bus.Client,
	store *eventstore.Store,
	llmCfg config.LLMConfig,
	log *slog.Logger,
) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		catalog:  catalog,
		stt:      transcriber,
		llm:      generator,
		tts:      synth,
		bus:      busClient,
		store:    store,
		llmCfg:   llmCfg,
		log:      log.With(slog.String("component", "pipeline")),
		tracer:   otel.Tracer("github.com/voxlinelabs/voxline-core/pipeline"),
	}
	meter := otel.Meter("github.com/voxlinelabs/voxline-core/pipeline")
	if counter, err := meter.Int64Counter("voxline.pipeline.turns",
		metric.WithDescription("Completed conversation turns")); err == nil {
		d.turnCounter = counter
	}
	if counter, err := meter.Int64Counter("voxline.pipeline.failures",
		metric.WithDescription("Turns aborted by a collaborator failure")); err == nil {
		d.failureCounter = counter
	}
	return d
}

// HandleAudioChunk buffers one audio frame for the session. A frame marked
// final closes the utterance and triggers the full turn.
func (d *Dispatcher) HandleAudioChunk(ctx context.Context, sessionID string, chunk protocol.AudioChunk) error {
	audio, err := chunk.Payload()
	if err != nil {
		return err
	}

	d.registry.Update(sessionID, func(s *registry.Session) {
		s.AudioBuffer = append(s.AudioBuffer, audio...)
		s.MessageCount++
	})

	if !chunk.IsFinal {
		return d.registry.Send(sessionID, protocol.NewStatusUpdate(StatusListening))
	}
	return d.runTurn(ctx, sessionID)
}

func (d *Dispatcher) runTurn(ctx context.Context, sessionID string) error {
	ctx, span := d.tracer.Start(ctx, "pipeline.turn",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	session, ok := d.registry.Get(sessionID)
	if !ok {
		return nil
	}
	agent, ok := d.catalog.Lookup(session.AgentID)
	if !ok {
		return fmt.Errorf("session %s references unknown agent %q", sessionID, session.AgentID)
	}
	span.SetAttributes(attribute.String("agent.id", agent.ID))

	if err := d.registry.Send(sessionID, protocol.NewStatusUpdate(StatusProcessing)); err != nil {
		return err
	}

	var audio []byte
	d.registry.Update(sessionID, func(s *registry.Session) {
		audio = s.AudioBuffer
		s.AudioBuffer = nil
	})
	if len(audio) == 0 {
		return d.fail(sessionID, "no audio buffered for this turn", nil)
	}

	start := time.Now()

	transcript, err := d.stt.Transcribe(ctx, audio)
	if err != nil {
		return d.fail(sessionID, "transcription failed", err)
	}
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		return d.fail(sessionID, "transcription produced no text", nil)
	}
	if err := d.registry.Send(sessionID, protocol.NewTranscription(text, true)); err != nil {
		return err
	}
	d.emitTranscript(ctx, sessionID, agent.ID, registry.RoleUser, text)

	reply, err := d.generate(ctx, session, agent, text)
	if err != nil {
		return d.fail(sessionID, "language model failed", err)
	}
	if err := d.registry.Send(sessionID, protocol.NewLLMResponse(reply)); err != nil {
		return err
	}
	d.registry.Update(sessionID, func(s *registry.Session) {
		s.History = append(s.History,
			registry.Turn{Role: registry.RoleUser, Content: text},
			registry.Turn{Role: registry.RoleAssistant, Content: reply},
		)
	})
	d.emitTranscript(ctx, sessionID, agent.ID, registry.RoleAssistant, reply)

	if err := d.speak(ctx, sessionID, agent, reply); err != nil {
		return d.fail(sessionID, "speech synthesis failed", err)
	}

	if d.turnCounter != nil {
		d.turnCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("agent.id", agent.ID)))
	}
	d.log.Info("turn completed",
		slog.String("session_id", sessionID),
		slog.String("agent_id", agent.ID),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// generate calls the LLM with the agent's prompt, the most recent history
// turns, and the new user message.
func (d *Dispatcher) generate(ctx context.Context, session registry.Session, agent agents.Agent, userText string) (string, error) {
	history := session.History
	if max := d.llmCfg.HistoryTurns; max > 0 && len(history) > max {
		history = history[len(history)-max:]
	}

	messages := make([]llm.Message, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userText})

	req := llm.Request{
		Messages:    messages,
		System:      agent.Prompt,
		Model:       d.llmCfg.Model,
		MaxTokens:   agent.MaxTokens,
		Temperature: agent.Temperature,
	}

	timeout := time.Duration(d.llmCfg.RequestTimeMS) * time.Millisecond
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reply strings.Builder
	err := d.llm.Generate(ctx, req, func(chunk llm.Chunk) error {
		reply.WriteString(chunk.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(reply.String())
	if text == "" {
		return "", fmt.Errorf("model returned no content")
	}
	return text, nil
}

// speak streams synthesized audio frames to the session.
func (d *Dispatcher) speak(ctx context.Context, sessionID string, agent agents.Agent, text string) error {
	chunks, errs := d.tts.Synthesize(ctx, tts.SynthRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     agent.VoiceID,
	})
	sent := false
	for chunk := range chunks {
		if err := d.registry.Send(sessionID, protocol.NewAudioResponse(chunk.Audio, chunk.Final)); err != nil {
			return err
		}
		sent = true
	}
	if err := <-errs; err != nil {
		return err
	}
	if !sent {
		return fmt.Errorf("synthesizer produced no audio")
	}
	return nil
}

// fail reports a turn failure to the client and the counters. The error
// envelope is best-effort; the session is left registered.
func (d *Dispatcher) fail(sessionID, message string, cause error) error {
	if d.failureCounter != nil {
		d.failureCounter.Add(context.Background(), 1)
	}
	attrs := []any{slog.String("session_id", sessionID)}
	if cause != nil {
		attrs = append(attrs, slogError(cause))
	}
	d.log.Warn(message, attrs...)
	if err := d.registry.Send(sessionID, protocol.NewServerError(message)); err != nil {
		d.log.Warn("failed to send error envelope", slog.String("session_id", sessionID), slogError(err))
	}
	if cause != nil {
		return fmt.Errorf("%s: %w", message, cause)
	}
	return fmt.Errorf("%s", message)
}

// SessionStarted records a new session on the bus and the timeline.
func (d *Dispatcher) SessionStarted(ctx context.Context, sessionID, agentID string) {
	event := protocol.SessionEvent{SessionID: sessionID, AgentID: agentID, Timestamp: time.Now().UTC()}
	if err := d.bus.Publish(protocol.SubjectSessionStarted, event); err != nil {
		d.log.Warn("failed to publish session start", slogError(err))
	}
	if err := d.store.AppendSession(ctx, sessionID, agentID); err != nil {
		d.log.Warn("failed to record session", slogError(err))
	}
	if err := d.store.AppendEvent(ctx, eventstore.Event{
		SessionID: sessionID,
		AgentID:   agentID,
		Type:      eventstore.TypeSessionStarted,
	}); err != nil {
		d.log.Warn("failed to record session start event", slogError(err))
	}
}

// SessionEnded records teardown on the bus and the timeline.
func (d *Dispatcher) SessionEnded(ctx context.Context, sessionID, agentID string) {
	event := protocol.SessionEvent{SessionID: sessionID, AgentID: agentID, Timestamp: time.Now().UTC()}
	if err := d.bus.Publish(protocol.SubjectSessionEnded, event); err != nil {
		d.log.Warn("failed to publish session end", slogError(err))
	}
	if err := d.store.AppendEvent(ctx, eventstore.Event{
		SessionID: sessionID,
		AgentID:   agentID,
		Type:      eventstore.TypeSessionEnded,
	}); err != nil {
		d.log.Warn("failed to record session end event", slogError(err))
	}
}

func (d *Dispatcher) emitTranscript(ctx context.Context, sessionID, agentID, role, text string) {
	event := protocol.TranscriptEvent{
		SessionID: sessionID,
		AgentID:   agentID,
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	subject := protocol.SubjectTranscriptFinal
	storeType := eventstore.TypeTranscript
	if role == registry.RoleAssistant {
		subject = protocol.SubjectResponseFinal
		storeType = eventstore.TypeResponse
	}
	if err := d.bus.Publish(subject, event); err != nil {
		d.log.Warn("failed to publish transcript event", slogError(err))
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := d.store.AppendEvent(ctx, eventstore.Event{
		SessionID: sessionID,
		AgentID:   agentID,
		Type:      storeType,
		Payload:   payload,
	}); err != nil {
		d.log.Warn("failed to record transcript event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
