package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const warmupText = "预加载"

// Adapter resolves voices to lazily loaded engine instances and serializes
// calls per instance. Calls against different instances run concurrently.
type Adapter struct {
	name    string
	factory Factory
	models  map[string]config.ModelConfig
	format  string
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	instances map[string]*instance

	latency metric.Float64Histogram
}

type instance struct {
	mu     sync.Mutex
	engine Engine
}

func NewAdapter(name string, factory Factory, models map[string]config.ModelConfig, format string, log *slog.Logger) *Adapter {
	a := &Adapter{
		name:      name,
		factory:   factory,
		models:    models,
		format:    format,
		logger:    log.With(slog.String("component", "tts-adapter"), slog.String("engine", name)),
		instances: make(map[string]*instance),
	}
	hist, err := otel.Meter("github.com/loqalabs/loqa-tts/tts").Float64Histogram(
		"loqa.tts.synthesis.duration",
		metric.WithDescription("Duration of one synthesis call"),
		metric.WithUnit("s"),
	)
	if err != nil {
		a.logger.Warn("failed to initialize metrics", slogError(err))
	} else {
		a.latency = hist
	}
	return a
}

// SetTimeout bounds each engine call. Zero disables the bound.
func (a *Adapter) SetTimeout(d time.Duration) { a.timeout = d }

func (a *Adapter) Name() string   { return a.name }
func (a *Adapter) Format() string { return a.format }

func (a *Adapter) instanceFor(key string) *instance {
	a.mu.Lock()
	defer a.mu.Unlock()
	inst, ok := a.instances[key]
	if !ok {
		inst = &instance{}
		a.instances[key] = inst
	}
	return inst
}

// load initializes the engine for key. Callers hold inst.mu. The first call
// for a key pays the model initialization latency.
func (a *Adapter) load(ctx context.Context, key string, inst *instance) error {
	if inst.engine != nil {
		return nil
	}
	model, ok := a.models[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, key)
	}
	start := time.Now()
	a.logger.Info("loading model", slog.String("model", key), slog.String("am", model.AcousticModel))
	engine, err := a.factory(ctx, key, model)
	if err != nil {
		return fmt.Errorf("load model %s: %w", key, err)
	}
	inst.engine = engine
	a.logger.Info("model loaded", slog.String("model", key), slog.Duration("took", time.Since(start)))
	return nil
}

// Synthesize renders text with the given voice.
func (a *Adapter) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	key := voice.Model()
	if strings.TrimSpace(text) == "" {
		return nil, newSynthesisError(a.name, key, ErrEmptyText)
	}

	inst := a.instanceFor(key)
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if err := a.load(ctx, key, inst); err != nil {
		return nil, newSynthesisError(a.name, key, err)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	start := time.Now()
	audio, err := inst.engine.Synthesize(ctx, Request{
		Text:   text,
		Voice:  voice,
		Model:  a.models[key],
		Format: a.format,
	})
	if a.latency != nil {
		a.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("model", key)))
	}
	if err != nil {
		return nil, newSynthesisError(a.name, key, err)
	}
	if len(audio) == 0 {
		return nil, newSynthesisError(a.name, key, ErrEmptyAudio)
	}
	return audio, nil
}

// SynthesizeToFile renders text into path. The audio is written to a hidden
// temporary file in the same directory and renamed into place, so a failed
// call never leaves a partial file at path.
func (a *Adapter) SynthesizeToFile(ctx context.Context, text string, voice Voice, path string) error {
	audio, err := a.Synthesize(ctx, text, voice)
	if err != nil {
		return err
	}
	return artifact.WriteAtomic(path, audio)
}

// Preload initializes the engines behind voices and runs one warm-up
// synthesis on each. Failures are logged; the request path retries lazily.
func (a *Adapter) Preload(ctx context.Context, voices ...Voice) {
	seen := make(map[string]bool)
	for _, voice := range voices {
		key := voice.Model()
		if seen[key] {
			continue
		}
		seen[key] = true
		start := time.Now()
		if _, err := a.Synthesize(ctx, warmupText, voice); err != nil {
			a.logger.Warn("model preload failed", slog.String("model", key), slogError(err))
			continue
		}
		a.logger.Info("model preloaded", slog.String("model", key), slog.Duration("took", time.Since(start)))
	}
}

// Close releases every loaded engine.
func (a *Adapter) Close() error {
	a.mu.Lock()
	instances := make([]*instance, 0, len(a.instances))
	for _, inst := range a.instances {
		instances = append(instances, inst)
	}
	a.mu.Unlock()

	var errs []error
	for _, inst := range instances {
		inst.mu.Lock()
		if inst.engine != nil {
			if err := inst.engine.Close(); err != nil {
				errs = append(errs, err)
			}
			inst.engine = nil
		}
		inst.mu.Unlock()
	}
	return errors.Join(errs...)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
