package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-tts/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Storage.SegmentDir = filepath.Join(root, "segments")
	cfg.Storage.OutputDir = filepath.Join(root, "files")
	cfg.EventStore.Path = filepath.Join(root, "loqa-tts.db")
	cfg.TTS.Preload = false
	cfg.Generation.Mode = "sync"
	return cfg
}

func TestBuildServesGeneratedAudio(t *testing.T) {
	cfg := testConfig(t)
	r := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	router, err := r.build(ctx)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		r.close(context.Background())
		r.wg.Wait()
	})
	router.HandleFunc("/readyz", r.handleReady)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/generate_audio", "application/json",
		strings.NewReader(`{"name":"greet","text":"你好。欢迎使用本系统！今天天气不错？"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || body["combined_file_url"] != "/files/greet.mp3" {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, body)
	}
	if body["segments"].(float64) != 3 {
		t.Fatalf("expected 3 segments, got %v", body["segments"])
	}
	if _, err := os.Stat(filepath.Join(cfg.Storage.OutputDir, "greet.mp3")); err != nil {
		t.Fatalf("merged file missing: %v", err)
	}

	resp, err = http.Get(srv.URL + "/jobs/" + body["job_id"].(string))
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	var job map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&job)
	resp.Body.Close()
	if job["status"] != "completed" {
		t.Fatalf("unexpected job %v", job)
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}
}

func TestBuildRejectsSharedDirectories(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.OutputDir = cfg.Storage.SegmentDir
	r := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := r.build(ctx); err == nil {
		t.Fatal("expected build to fail")
	}
}

func TestTraceExporterSelection(t *testing.T) {
	cases := []struct {
		cfg  config.TelemetryConfig
		want string
	}{
		{config.TelemetryConfig{}, "none"},
		{config.TelemetryConfig{TraceExporter: "stdout"}, "stdout"},
		{config.TelemetryConfig{OTLPEndpoint: "collector:4317"}, "otlp"},
		{config.TelemetryConfig{TraceExporter: "none", OTLPEndpoint: "collector:4317"}, "otlp"},
		{config.TelemetryConfig{TraceExporter: "stdout", OTLPEndpoint: "collector:4317"}, "stdout"},
	}
	for _, tc := range cases {
		if got := traceExporter(tc.cfg); got != tc.want {
			t.Fatalf("%+v: got %s want %s", tc.cfg, got, tc.want)
		}
	}
}
