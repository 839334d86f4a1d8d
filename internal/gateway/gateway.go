package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxlinelabs/voxline-core/internal/agents"
	"github.com/voxlinelabs/voxline-core/internal/config"
	"github.com/voxlinelabs/voxline-core/internal/pipeline"
	"github.com/voxlinelabs/voxline-core/internal/protocol"
	"github.com/voxlinelabs/voxline-core/internal/registry"
)

// CloseUnknownAgent is sent when the path names an agent the catalog
// does not have.
const CloseUnknownAgent = websocket.CloseUnsupportedData

// Gateway owns the WebSocket endpoint: it validates the agent, registers
// the session, runs the read loop, and guarantees teardown on every exit
// path.
type Gateway struct {
	cfg        config.GatewayConfig
	registry   *registry.Registry
	catalog    *agents.Catalog
	dispatcher *pipeline.Dispatcher
	log        *slog.Logger
	upgrader   websocket.Upgrader

	sessionGauge metric.Int64ObservableGauge
}

func New(cfg config.GatewayConfig, reg *registry.Registry, catalog *agents.Catalog, dispatcher *pipeline.Dispatcher, log *slog.Logger) *Gateway {
	g := &Gateway{
		cfg:        cfg,
		registry:   reg,
		catalog:    catalog,
		dispatcher: dispatcher,
		log:        log.With(slog.String("component", "gateway")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	g.initMetrics()
	return g
}

func (g *Gateway) initMetrics() {
	meter := otel.Meter("github.com/voxlinelabs/voxline-core/gateway")
	gauge, err := meter.Int64ObservableGauge("voxline.sessions.active",
		metric.WithDescription("Currently registered sessions"))
	if err != nil {
		g.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	g.sessionGauge = gauge
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(g.registry.Len()))
		return nil
	}, gauge)
	if err != nil {
		g.log.Warn("failed to register metrics callback", slog.String("error", err.Error()))
	}
}

// HandleVoiceAgent serves one voice session on an upgraded connection.
func (g *Gateway) HandleVoiceAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	agent, ok := g.catalog.Lookup(agentID)
	if !ok {
		g.log.Warn("rejecting unknown agent", slog.String("agent_id", agentID))
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(CloseUnknownAgent, "unknown agent: "+agentID)
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		conn.Close()
		return
	}

	sessionID := g.registry.Create(conn, agent.ID)
	log := g.log.With(slog.String("session_id", sessionID), slog.String("agent_id", agent.ID))

	// Teardown runs exactly once whether the client hung up, asked to end,
	// or the read loop panicked. Remove is idempotent and closes the
	// connection itself.
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("session handler panicked", slog.Any("panic", rec))
			_ = g.registry.Send(sessionID, protocol.NewServerError("internal error"))
		}
		g.registry.Remove(sessionID)
		// The request context is gone by now; teardown bookkeeping gets
		// its own context.
		g.dispatcher.SessionEnded(context.Background(), sessionID, agent.ID)
		log.Info("session closed")
	}()

	g.dispatcher.SessionStarted(r.Context(), sessionID, agent.ID)
	if err := g.registry.Send(sessionID, protocol.NewConnectionEstablished(sessionID, agent.Name)); err != nil {
		log.Warn("failed to send connection_established", slog.String("error", err.Error()))
		return
	}
	log.Info("session established")

	g.readLoop(r.Context(), conn, sessionID, log)
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string, log *slog.Logger) {
	if g.cfg.ReadLimitBytes > 0 {
		conn.SetReadLimit(g.cfg.ReadLimitBytes)
	}

	idle := time.Duration(g.cfg.IdleTimeoutMS) * time.Millisecond
	resetDeadline := func() {
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
	}
	conn.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})

	stopPing := g.startPing(conn)
	defer stopPing()

	for {
		resetDeadline()
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("connection dropped", slog.String("error", err.Error()))
			}
			return
		}

		decoded, err := protocol.DecodeClientMessage(frame)
		if err != nil {
			g.rejectFrame(sessionID, err, log)
			continue
		}

		switch msg := decoded.(type) {
		case protocol.AudioChunk:
			if err := g.dispatcher.HandleAudioChunk(ctx, sessionID, msg); err != nil {
				log.Warn("turn failed", slog.String("error", err.Error()))
			}
		case protocol.EndSession:
			log.Info("client requested end of session")
			return
		default:
			log.Warn("decoder returned unexpected variant")
		}
	}
}

// rejectFrame reports a bad frame to the client and keeps the session alive.
func (g *Gateway) rejectFrame(sessionID string, err error, log *slog.Logger) {
	var unhandled *protocol.UnhandledKindError
	if errors.As(err, &unhandled) {
		log.Warn("client sent server-to-client message", slog.String("kind", unhandled.Kind))
	} else {
		log.Warn("rejected malformed frame", slog.String("error", err.Error()))
	}
	if sendErr := g.registry.Send(sessionID, protocol.NewServerError(err.Error())); sendErr != nil {
		log.Warn("failed to send error envelope", slog.String("error", sendErr.Error()))
	}
}

// startPing keeps intermediaries from timing the connection out. Control
// frames are safe to write concurrently with registry sends.
func (g *Gateway) startPing(conn *websocket.Conn) func() {
	interval := time.Duration(g.cfg.PingIntervalMS) * time.Millisecond
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(time.Duration(g.cfg.WriteTimeoutMS) * time.Millisecond)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}
