package tts

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-tts/internal/codec"
	"github.com/loqalabs/loqa-tts/internal/config"
)

type mockEngine struct {
	sampleRate int
	delay      time.Duration
}

// NewMockFactory returns engines that render silence sized by the fragment's
// rune count. Useful for development without a speech engine installed.
func NewMockFactory(sampleRate int, delay time.Duration) Factory {
	return func(ctx context.Context, key string, model config.ModelConfig) (Engine, error) {
		return &mockEngine{sampleRate: sampleRate, delay: delay}, nil
	}
}

func (m *mockEngine) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	runes := len([]rune(req.Text))
	if req.Format == "wav" {
		// 50ms of audio per rune.
		return codec.SilentWAV(m.sampleRate, runes*m.sampleRate/20)
	}
	return codec.SilentMP3(runes * 2), nil
}

func (m *mockEngine) Close() error { return nil }
