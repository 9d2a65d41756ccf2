// Command loqa-ttsd serves the text-to-speech HTTP API and, when the bus is
// enabled, the tts.job.* subjects.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath     string
	showVersion    bool
	checkConfig    bool
	port           int
	generationMode string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("loqa-ttsd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "loqa-tts.yaml", "Path to configuration file")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&opts.checkConfig, "check-config", false, "Validate the configuration and exit")
	fs.IntVar(&opts.port, "port", 0, "Override http.port")
	fs.StringVar(&opts.generationMode, "generation-mode", "", "Override generation.mode (sync or async)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: loqa-ttsd [flags]\n\nServes segment-and-merge speech synthesis over HTTP.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	return opts, fs.Parse(args)
}

// loadConfig applies command-line overrides on top of the file and
// environment, then validates the result again.
func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if opts.port != 0 {
		cfg.HTTP.Port = opts.port
	}
	if opts.generationMode != "" {
		cfg.Generation.Mode = opts.generationMode
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "loqa-ttsd %s\n", version)
		return 0
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := loadConfig(opts)
	if err != nil {
		logger.Error("failed to load config", slog.String("config", opts.configPath), slog.String("error", err.Error()))
		return 1
	}
	if opts.checkConfig {
		fmt.Fprintf(stdout, "%s: ok (tts=%s generation=%s port=%d)\n",
			opts.configPath, cfg.TTS.Mode, cfg.Generation.Mode, cfg.HTTP.Port)
		return 0
	}
	logger = slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: cfg.Telemetry.Level()})).
		With(slog.String("runtime", cfg.RuntimeName), slog.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runtime.New(cfg, logger).Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		// Give the exporters a moment to flush the failure.
		time.Sleep(time.Second)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}
