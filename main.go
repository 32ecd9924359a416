// Package main runs rdio-vox: a voice-activated recorder that captures calls
// from an audio input and uploads them to an Rdio Scanner server.
//
// Usage:
//
//	rdio-vox [-config /etc/rdio-vox/config.json] [-log-level info]
//
// Flags fall back to the RDIO_VOX_CONFIG and RDIO_VOX_LOG_LEVEL environment
// variables, which may also be set in a .env file in the working directory.
package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/oszuidwest/rdio-vox/internal/audio"
	"github.com/oszuidwest/rdio-vox/internal/config"
	"github.com/oszuidwest/rdio-vox/internal/eventlog"
	"github.com/oszuidwest/rdio-vox/internal/util"
)

// shutdownTimeout bounds draining the upload queue on exit.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	configPath := flag.String("config", cmp.Or(os.Getenv("RDIO_VOX_CONFIG"), config.DefaultPath), "Path to config file")
	logLevel := flag.String("log-level", cmp.Or(os.Getenv("RDIO_VOX_LOG_LEVEL"), "info"), "Log level: debug, info, warn or error")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rdio-vox %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		return
	}

	level, err := parseLevel(*logLevel)
	if err != nil {
		slog.Error("invalid log level", "error", err)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*configPath); err != nil {
		slog.Error("rdio-vox stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	slog.Info("using config file", "path", configPath)
	cfg := config.New(configPath)
	if err := cfg.Load(); err != nil {
		return util.WrapError("load config", err)
	}

	events := openEventLog(cfg.Snapshot())
	app := NewApp(cfg, audio.DefaultOpener(), events)
	version := NewVersionChecker()
	srv := NewServer(cfg, app, version)

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	app.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		version.Run(gctx)
		return nil
	})

	err := g.Wait()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := app.Shutdown(shutdownCtx); serr != nil {
		slog.Error("shutdown incomplete", "error", serr)
	}

	slog.Info("shutdown complete")
	return err
}

// openEventLog opens the configured event log. Failures disable the log
// instead of preventing startup.
func openEventLog(snap config.Snapshot) *eventlog.Logger {
	path := snap.LogPath
	if path == "" {
		path = eventlog.DefaultLogPath()
	}
	logger, err := eventlog.NewLogger(path)
	if err != nil {
		slog.Warn("event log disabled", "path", path, "error", err)
		return nil
	}
	slog.Info("writing events", "path", path)
	return logger
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, err
	}
	return level, nil
}
