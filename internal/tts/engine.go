package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-tts/internal/config"
)

// Request contains parameters to synthesize one fragment.
type Request struct {
	Text   string
	Voice  Voice
	Model  config.ModelConfig
	Format string // mp3 or wav
}

// Engine is one loaded model instance of an external speech engine. Engines
// are not assumed to be reentrant; the Adapter serializes calls per instance.
type Engine interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	Close() error
}

// Factory loads the engine instance for a model key. It is called once per
// key, on first use.
type Factory func(ctx context.Context, key string, model config.ModelConfig) (Engine, error)

// NewFactory selects the engine backend for cfg.Mode and returns it with the
// backend's name.
func NewFactory(cfg config.TTSConfig) (Factory, string, error) {
	switch cfg.Mode {
	case "exec":
		factory, err := NewExecFactory(cfg.Command)
		if err != nil {
			return nil, "", err
		}
		return factory, "exec", nil
	case "google":
		return NewGoogleFactory(cfg.SampleRate), "google", nil
	case "mock", "":
		return NewMockFactory(cfg.SampleRate, 0), "mock", nil
	default:
		return nil, "", fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
