package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-tts/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngine struct {
	calls   *atomic.Int32
	active  *atomic.Int32
	maxSeen *atomic.Int32
	fail    error
	delay   time.Duration
}

func (f *fakeEngine) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail != nil {
		return nil, f.fail
	}
	return []byte(req.Voice.String() + ":" + req.Text), nil
}

func (f *fakeEngine) Close() error { return nil }

type fakeFactory struct {
	mu      sync.Mutex
	loads   map[string]int
	engine  *fakeEngine
	loadErr error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		loads:  make(map[string]int),
		engine: &fakeEngine{calls: new(atomic.Int32), active: new(atomic.Int32), maxSeen: new(atomic.Int32)},
	}
}

func (f *fakeFactory) factory(ctx context.Context, key string, model config.ModelConfig) (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	f.loads[key]++
	return f.engine, nil
}

func TestParseVoice(t *testing.T) {
	cases := map[string]Voice{
		"":           Default,
		"female":     Default,
		"Default":    Default,
		"male":       Male,
		"speaker-0":  Speaker(0),
		"speaker-42": Speaker(42),
	}
	for in, want := range cases {
		got, err := ParseVoice(in, 173)
		if err != nil {
			t.Fatalf("ParseVoice(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseVoice(%q) = %v, want %v", in, got, want)
		}
	}
	for _, bad := range []string{"robot", "speaker-", "speaker-174", "speaker--1"} {
		if _, err := ParseVoice(bad, 173); !errors.Is(err, ErrUnknownVoice) {
			t.Fatalf("ParseVoice(%q): expected ErrUnknownVoice, got %v", bad, err)
		}
	}
}

func TestVoiceFromSpeakerID(t *testing.T) {
	if v, _ := VoiceFromSpeakerID(1, 173); v != Default {
		t.Fatalf("spk_id 1 should be default, got %v", v)
	}
	if v, _ := VoiceFromSpeakerID(2, 173); v != Male {
		t.Fatalf("spk_id 2 should be male, got %v", v)
	}
	v, err := VoiceFromSpeakerID(5, 173)
	if err != nil {
		t.Fatalf("spk_id 5: %v", err)
	}
	if id, ok := v.SpeakerID(); !ok || id != 5 || v.Model() != ModelAishell3 {
		t.Fatalf("unexpected voice for spk_id 5: %v", v)
	}
	for _, bad := range []int{0, -1, 174} {
		if _, err := VoiceFromSpeakerID(bad, 173); !errors.Is(err, ErrUnknownVoice) {
			t.Fatalf("spk_id %d: expected ErrUnknownVoice, got %v", bad, err)
		}
	}
}

func TestAdapterLoadsModelsLazily(t *testing.T) {
	f := newFakeFactory()
	a := NewAdapter("fake", f.factory, config.DefaultModels(), "mp3", testLogger())

	if len(f.loads) != 0 {
		t.Fatalf("expected no models loaded at construction")
	}
	for i := 0; i < 3; i++ {
		if _, err := a.Synthesize(context.Background(), "你好", Male); err != nil {
			t.Fatalf("synthesize: %v", err)
		}
	}
	if _, err := a.Synthesize(context.Background(), "你好", Speaker(7)); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if f.loads[ModelMale] != 1 || f.loads[ModelAishell3] != 1 || f.loads[ModelDefault] != 0 {
		t.Fatalf("unexpected loads %v", f.loads)
	}
}

func TestAdapterSerializesPerInstance(t *testing.T) {
	f := newFakeFactory()
	f.engine.delay = 10 * time.Millisecond
	a := NewAdapter("fake", f.factory, config.DefaultModels(), "mp3", testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Synthesize(context.Background(), "文本", Default); err != nil {
				t.Errorf("synthesize: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := f.engine.maxSeen.Load(); got != 1 {
		t.Fatalf("expected calls on one instance to be serialized, saw %d concurrent", got)
	}
}

func TestAdapterWrapsFailures(t *testing.T) {
	f := newFakeFactory()
	f.engine.fail = errors.New("cuda out of memory")
	a := NewAdapter("fake", f.factory, config.DefaultModels(), "mp3", testLogger())

	_, err := a.Synthesize(context.Background(), "你好", Default)
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected SynthesisError, got %v", err)
	}
	if synthErr.Model != ModelDefault || synthErr.Engine != "fake" {
		t.Fatalf("unexpected error fields %+v", synthErr)
	}

	if _, err := a.Synthesize(context.Background(), "  ", Default); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

type blockingEngine struct{}

func (blockingEngine) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingEngine) Close() error { return nil }

func TestAdapterTimeout(t *testing.T) {
	factory := func(ctx context.Context, key string, model config.ModelConfig) (Engine, error) {
		return blockingEngine{}, nil
	}
	a := NewAdapter("fake", factory, config.DefaultModels(), "mp3", testLogger())
	a.SetTimeout(20 * time.Millisecond)
	if _, err := a.Synthesize(context.Background(), "你好", Default); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestAdapterUnknownModel(t *testing.T) {
	f := newFakeFactory()
	models := map[string]config.ModelConfig{ModelDefault: {AcousticModel: "fastspeech2_csmsc"}}
	a := NewAdapter("fake", f.factory, models, "mp3", testLogger())
	if _, err := a.Synthesize(context.Background(), "你好", Male); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestSynthesizeToFileLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	f := newFakeFactory()
	a := NewAdapter("fake", f.factory, config.DefaultModels(), "mp3", testLogger())

	path := filepath.Join(dir, "greet_0000.mp3")
	if err := a.SynthesizeToFile(context.Background(), "你好。", Default, path); err != nil {
		t.Fatalf("synthesize to file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "default:你好。" {
		t.Fatalf("unexpected file content %q (%v)", data, err)
	}

	f.engine.fail = errors.New("boom")
	failed := filepath.Join(dir, "greet_0001.mp3")
	if err := a.SynthesizeToFile(context.Background(), "欢迎。", Default, failed); err == nil {
		t.Fatalf("expected failure")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the first file to exist, got %d entries", len(entries))
	}
}

func TestPreloadWarmsEachModelOnce(t *testing.T) {
	f := newFakeFactory()
	a := NewAdapter("fake", f.factory, config.DefaultModels(), "mp3", testLogger())
	a.Preload(context.Background(), Default, Male, Speaker(0), Speaker(9))
	if f.loads[ModelDefault] != 1 || f.loads[ModelMale] != 1 || f.loads[ModelAishell3] != 1 {
		t.Fatalf("unexpected loads %v", f.loads)
	}
	if got := f.engine.calls.Load(); got != 3 {
		t.Fatalf("expected 3 warm-up calls, got %d", got)
	}
}

func TestMockEngineProducesAudio(t *testing.T) {
	factory := NewMockFactory(24000, 0)
	a := NewAdapter("mock", factory, config.DefaultModels(), "wav", testLogger())
	data, err := a.Synthesize(context.Background(), "你好", Default)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(data[:4]) != "RIFF" {
		t.Fatalf("expected wav output")
	}
}

func TestModelArgs(t *testing.T) {
	args := modelArgs(config.ModelConfig{AcousticModel: "fastspeech2_male", Lang: "zh"})
	want := []string{"--am", "fastspeech2_male", "--lang", "zh"}
	if len(args) != len(want) {
		t.Fatalf("unexpected args %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("unexpected args %v", args)
		}
	}
}

func TestNewFactoryModes(t *testing.T) {
	cfg := config.Default().TTS
	if _, name, err := NewFactory(cfg); err != nil || name != "mock" {
		t.Fatalf("mock factory: %s %v", name, err)
	}
	cfg.Mode = "exec"
	cfg.Command = `paddlespeech "tts`
	if _, _, err := NewFactory(cfg); err == nil {
		t.Fatalf("expected unterminated quote to fail parsing")
	}
	cfg.Mode = "neural"
	if _, _, err := NewFactory(cfg); err == nil {
		t.Fatalf("expected unsupported mode error")
	}
}
