package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8888 {
		t.Fatalf("expected default port 8888, got %d", cfg.HTTP.Port)
	}
	if cfg.Segmenter.Mode != "bounded" || cfg.Segmenter.MaxLength != 30 {
		t.Fatalf("unexpected segmenter defaults: %+v", cfg.Segmenter)
	}
	if _, ok := cfg.TTS.Models["aishell3"]; !ok {
		t.Fatalf("expected aishell3 model in defaults")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_TTS_HTTP_PORT", "9000")
	t.Setenv("LOQA_TTS_HTTP_CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("LOQA_TTS_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_TTS_BUS_ENABLED", "true")
	t.Setenv("LOQA_TTS_STORAGE_SEGMENT_DIR", "/tmp/seg")
	t.Setenv("LOQA_TTS_STORAGE_OUTPUT_DIR", "/tmp/out")
	t.Setenv("LOQA_TTS_SEGMENTER_MODE", "terminator")
	t.Setenv("LOQA_TTS_GENERATION_MODE", "sync")
	t.Setenv("LOQA_TTS_CLEANUP_INTERVAL_MS", "250")
	t.Setenv("LOQA_TTS_PRELOAD", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Port != 9000 {
		t.Fatalf("expected port override, got %d", cfg.HTTP.Port)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 {
		t.Fatalf("expected 2 cors origins, got %v", cfg.HTTP.CORSOrigins)
	}
	if len(cfg.Bus.Servers) != 2 || !cfg.Bus.Enabled {
		t.Fatalf("expected bus overrides, got %+v", cfg.Bus)
	}
	if cfg.Storage.SegmentDir != "/tmp/seg" || cfg.Storage.OutputDir != "/tmp/out" {
		t.Fatalf("expected storage overrides, got %+v", cfg.Storage)
	}
	if cfg.Segmenter.Mode != "terminator" {
		t.Fatalf("expected segmenter mode override")
	}
	if cfg.Generation.Mode != "sync" {
		t.Fatalf("expected generation mode override")
	}
	if cfg.Cleanup.IntervalMS != 250 {
		t.Fatalf("expected cleanup interval override, got %d", cfg.Cleanup.IntervalMS)
	}
	if cfg.TTS.Preload {
		t.Fatalf("expected preload disabled")
	}
}

func TestLoadFileMergesModels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-tts.yaml")
	data := []byte(`
storage:
  format: wav
tts:
  mode: exec
  command: paddlespeech tts
  models:
    male:
      am: fastspeech2_male
      voc: pwgan_male
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Format != "wav" {
		t.Fatalf("expected wav format, got %s", cfg.Storage.Format)
	}
	if cfg.TTS.Models["male"].Vocoder != "pwgan_male" {
		t.Fatalf("expected male vocoder override, got %+v", cfg.TTS.Models["male"])
	}
	if cfg.TTS.Models["default"].AcousticModel != "fastspeech2_csmsc" {
		t.Fatalf("expected default model to survive partial override")
	}
}

func TestValidateRejectsSharedDirectories(t *testing.T) {
	t.Setenv("LOQA_TTS_STORAGE_SEGMENT_DIR", "./data/x")
	t.Setenv("LOQA_TTS_STORAGE_OUTPUT_DIR", "data/x/")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error when segment and output directories match")
	}
}

func TestValidateRejectsUnknownModes(t *testing.T) {
	t.Setenv("LOQA_TTS_SEGMENTER_MODE", "regex")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for unknown segmenter mode")
	}
}

func TestValidateRouterNeedsBus(t *testing.T) {
	t.Setenv("LOQA_TTS_ROUTER_ENABLED", "true")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error when router is enabled without the bus")
	}
	t.Setenv("LOQA_TTS_BUS_ENABLED", "true")
	if _, err := Load(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTelemetryLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := (TelemetryConfig{LogLevel: in}).Level(); got != want {
			t.Fatalf("%q: got %v want %v", in, got, want)
		}
	}
}
