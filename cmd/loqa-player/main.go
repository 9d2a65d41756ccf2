package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/playback"
)

func main() {
	var (
		configPath string
		directory  string
	)

	flag.StringVar(&configPath, "config", "loqa-tts.yaml", "Path to configuration file")
	flag.StringVar(&directory, "dir", "", "Directory to watch (overrides player.directory)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Telemetry.Level()}))
	if directory != "" {
		cfg.Player.Directory = directory
	}

	player, err := playback.NewCommandPlayer(cfg.Player.Command)
	if err != nil {
		logger.Error("invalid player command", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Player.Directory, 0o755); err != nil {
		logger.Error("failed to create watch directory", slog.String("error", err.Error()))
		os.Exit(1)
	}

	watcher := playback.NewWatcher(playback.Options{
		Directory:    cfg.Player.Directory,
		Extension:    cfg.Player.Extension,
		PollInterval: time.Duration(cfg.Player.PollIntervalMS) * time.Millisecond,
	}, player, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watcher.Run(ctx); err != nil {
		logger.Error("player exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("player stopped", slog.Int("abandoned", watcher.Queue().Len()))
}
