package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxlinelabs/voxline-core/internal/agents"
	"github.com/voxlinelabs/voxline-core/internal/bus"
	"github.com/voxlinelabs/voxline-core/internal/config"
	"github.com/voxlinelabs/voxline-core/internal/eventstore"
	"github.com/voxlinelabs/voxline-core/internal/gateway"
	"github.com/voxlinelabs/voxline-core/internal/llm"
	"github.com/voxlinelabs/voxline-core/internal/natsserver"
	"github.com/voxlinelabs/voxline-core/internal/pipeline"
	"github.com/voxlinelabs/voxline-core/internal/registry"
	"github.com/voxlinelabs/voxline-core/internal/stt"
	"github.com/voxlinelabs/voxline-core/internal/tts"
)

// Runtime assembles the gateway and its collaborators and runs them until
// the context is canceled.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded nats: %w", err)
	}
	defer embedded.Shutdown()

	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		if embedded != nil && len(busCfg.Servers) == 0 {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		busClient, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		defer busClient.Close()
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()

	catalog, err := agents.Load(r.cfg.Agents.Path)
	if err != nil {
		return fmt.Errorf("failed to load agent catalog: %w", err)
	}
	r.logger.Info("agent catalog loaded", slog.Int("agents", len(catalog.All())))

	transcriber, err := stt.New(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("failed to build transcriber: %w", err)
	}
	generator, err := llm.New(r.cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to build generator: %w", err)
	}
	synth, err := tts.New(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("failed to build synthesizer: %w", err)
	}

	writeTimeout := time.Duration(r.cfg.Gateway.WriteTimeoutMS) * time.Millisecond
	sessions := registry.New(r.logger, writeTimeout)
	defer sessions.Close()

	dispatcher := pipeline.NewDispatcher(sessions, catalog, transcriber, generator, synth,
		busClient, store, r.cfg.LLM, r.logger)
	gw := gateway.New(r.cfg.Gateway, sessions, catalog, dispatcher, r.logger)

	mux := http.NewServeMux()
	gw.Routes(mux, r.cfg.RuntimeName, r.cfg.Version, func() bool {
		if !r.ready.Load() {
			return false
		}
		if r.cfg.Bus.Enabled && !busClient.Healthy() {
			return false
		}
		return true
	})
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("environment", r.cfg.Environment))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}
