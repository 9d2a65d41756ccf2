package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/loqalabs/loqa-tts/internal/api"
	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/cleanup"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/eventstore"
	"github.com/loqalabs/loqa-tts/internal/jobevents"
	"github.com/loqalabs/loqa-tts/internal/merge"
	"github.com/loqalabs/loqa-tts/internal/natsserver"
	"github.com/loqalabs/loqa-tts/internal/pipeline"
	"github.com/loqalabs/loqa-tts/internal/router"
	"github.com/loqalabs/loqa-tts/internal/segment"
	"github.com/loqalabs/loqa-tts/internal/tts"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	adapter  *tts.Adapter
	events   *eventstore.Store
	busConn  *bus.Client
	embedded *natsserver.EmbeddedServer
	service  *pipeline.Service
	router   *router.Service
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

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	routes, err := r.build(ctx)
	if err != nil {
		r.close(context.Background())
		return err
	}
	routes.HandleFunc("/healthz", r.handleHealth)
	routes.HandleFunc("/readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           api.WithCORS(routes, r.cfg.HTTP.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("generation_mode", r.cfg.Generation.Mode),
		slog.String("tts_mode", r.cfg.TTS.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.close(shutdownCtx)
	r.wg.Wait()

	return nil
}

// build wires storage, synthesis, merging, cleanup and job history into the
// pipeline and returns a router carrying the API routes.
func (r *Runtime) build(ctx context.Context) (*mux.Router, error) {
	cfg := r.cfg

	store, err := artifact.New(cfg.Storage.SegmentDir, cfg.Storage.OutputDir, cfg.Storage.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to configure storage: %w", err)
	}
	if err := store.Ensure(); err != nil {
		return nil, fmt.Errorf("failed to create storage directories: %w", err)
	}

	factory, engineName, err := tts.NewFactory(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("failed to configure tts: %w", err)
	}
	r.adapter = tts.NewAdapter(engineName, factory, cfg.TTS.Models, cfg.Storage.Format, r.logger)
	r.adapter.SetTimeout(time.Duration(cfg.TTS.TimeoutMS) * time.Millisecond)

	merger := merge.New(cfg.Storage.Format, r.logger)

	cleaner := cleanup.New(time.Duration(cfg.Cleanup.IntervalMS)*time.Millisecond, r.logger)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		cleaner.Run(ctx)
	}()

	r.events, err = eventstore.Open(ctx, cfg.EventStore, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}

	var (
		observers pipeline.Observers
		history   api.JobHistory
	)
	if cfg.EventStore.RetentionMode != "ephemeral" {
		observers = append(observers, jobevents.NewRecorder(r.events, r.logger))
		history = r.events
	}

	if cfg.Bus.Enabled {
		busCfg := cfg.Bus
		if busCfg.Embedded {
			r.embedded, err = natsserver.Start(busCfg, r.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to start embedded nats: %w", err)
			}
			busCfg.Servers = []string{r.embedded.ClientURL()}
		}
		r.busConn, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to bus: %w", err)
		}
		observers = append(observers, jobevents.NewPublisher(r.busConn, r.logger))
	}

	r.service = pipeline.New(store, r.adapter, merger, cleaner, pipeline.Options{
		Segmenter: segment.Options{
			Mode:      segment.Mode(cfg.Segmenter.Mode),
			MaxLength: cfg.Segmenter.MaxLength,
		},
		Observer: observers,
	}, r.logger)

	if cfg.Router.Enabled && r.busConn != nil {
		r.router = router.NewService(ctx, cfg.Router, r.busConn, r.service, cfg.TTS.MaxSpeakerID, r.logger)
		if err := r.router.Start(); err != nil {
			return nil, fmt.Errorf("failed to start bus router: %w", err)
		}
	}

	handler := api.NewHandler(r.service, store, api.Options{
		Async:        cfg.Generation.Mode == "async",
		MaxSpeakerID: cfg.TTS.MaxSpeakerID,
		History:      history,
	}, r.logger)
	routes := mux.NewRouter()
	handler.Register(routes)

	if cfg.TTS.Preload {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.adapter.Preload(ctx, tts.Default, tts.Male, tts.Speaker(3))
			if ctx.Err() == nil {
				r.ready.Store(true)
			}
		}()
	} else {
		r.ready.Store(true)
	}

	return routes, nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

// close stops the running job and releases everything build acquired.
func (r *Runtime) close(ctx context.Context) {
	if r.router != nil {
		r.router.Close()
	}
	if r.service != nil {
		r.service.Stop()
		r.service.Wait()
	}
	if r.adapter != nil {
		if err := r.adapter.Close(); err != nil {
			r.logger.Error("tts shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.events != nil {
		if err := r.events.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.busConn != nil {
		r.busConn.Close()
	}
	r.embedded.Shutdown()
	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
