// Command chatwatch bridges a desktop IDE's chat panel to mobile clients.
//
// Usage:
//
//	chatwatch                          # serve on :8090 with defaults
//	chatwatch -config chatwatch.yaml   # serve with YAML config
//	chatwatch -snapshot                # capture one snapshot to stdout and exit
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/chatwatch/capture"
	"github.com/hazyhaar/chatwatch/msglog"
	"github.com/hazyhaar/chatwatch/relay"
)

type fileConfig struct {
	Addr     string         `yaml:"addr"`
	Capture  capture.Config `yaml:"capture"`
	Relay    relay.Config   `yaml:"relay"`
	Messages struct {
		Path string `yaml:"path"`
		Cap  int    `yaml:"cap"`
	} `yaml:"messages"`
}

func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	if cfg.Messages.Path == "" {
		cfg.Messages.Path = "data/messages.db"
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to chatwatch.yaml config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	snapshot := flag.Bool("snapshot", false, "capture one snapshot to stdout and exit")
	echo := flag.Bool("echo", false, "also write emitted snapshots to stdout as JSON lines")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *addr, *snapshot, *echo); err != nil {
		logger.Error("chatwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, addr string, snapshot, echo bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}

	streamer := capture.New(cfg.Capture, logger)

	if snapshot {
		return runSnapshot(ctx, streamer)
	}

	msgs, err := msglog.Open(cfg.Messages.Path, cfg.Messages.Cap)
	if err != nil {
		return fmt.Errorf("open message log: %w", err)
	}
	defer msgs.Close()

	var extra []capture.Sink
	if echo {
		extra = append(extra, capture.NewStdoutSink(os.Stdout))
	}
	svc := relay.New(streamer, msgs, cfg.Relay, logger, extra...)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           svc.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chatwatch: listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("chatwatch: shutting down")
	streamer.Stop()
	svc.Hub().Close()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// runSnapshot captures once and prints the snapshot as JSON.
func runSnapshot(ctx context.Context, streamer *capture.Streamer) error {
	snap := streamer.Snapshot(ctx)
	if snap == nil {
		return fmt.Errorf("no chat panel captured")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
