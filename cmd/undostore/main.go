package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"undostore/internal/config"
	"undostore/internal/console"
	"undostore/internal/logging"
	"undostore/internal/snapshot"
	boltsnap "undostore/internal/snapshot/bolt"
	filesnap "undostore/internal/snapshot/file"
	"undostore/internal/store"
)

var logger = logging.For("main")

func main() {
	configPath := flag.String("config", "", "path to config file")
	dbPath := flag.String("db", "", "snapshot path (overrides config)")
	backend := flag.String("backend", "", "snapshot backend: file or bolt (overrides config)")
	fresh := flag.Bool("fresh", false, "ignore any existing snapshot and start empty")
	metricsListen := flag.String("metrics-listen", "", "metrics listen address (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	flag.Parse()

	// Load config (TOML file with defaults)
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// CLI flags override config file values
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *backend != "" {
		cfg.Store.Backend = *backend
	}
	if *fresh {
		cfg.Store.Load = false
	}
	if *metricsListen != "" {
		cfg.Metrics.Listen = *metricsListen
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		logger.Error("exiting", "err", err)
		stop()
		os.Exit(1)
	}
}

// run opens the store described by cfg and serves the console on in/out
// until /quit, end of input or ctx cancellation.
func run(ctx context.Context, cfg *config.Config, in *os.File, out io.Writer) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s, err := openStore(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("closing store", "err", err)
		}
	}()

	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	commands := console.NewCommandRegistry()
	registerStoreCommands(commands, s)
	commands.RegisterBuiltins()

	// Restored on every return, including a signal arriving while the
	// console goroutine is still blocked on a read.
	interactive, restore, err := rawMode(in)
	if err != nil {
		return err
	}
	defer restore()

	// The console blocks on reads, so signals are observed here.
	done := make(chan error, 1)
	go func() {
		done <- runConsole(ctx, in, out, commands, interactive)
	}()
	select {
	case err := <-done:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	}
}

// rawMode puts in into raw mode when it is a terminal. restore is always
// safe to call.
func rawMode(in *os.File) (interactive bool, restore func(), err error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return false, func() {}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return false, nil, fmt.Errorf("raw mode: %w", err)
	}
	return true, func() { _ = term.Restore(fd, oldState) }, nil
}

func runConsole(ctx context.Context, in *os.File, out io.Writer, reg *console.CommandRegistry, interactive bool) error {
	if !interactive {
		return console.Run(ctx, in, out, reg)
	}
	return console.RunTerminal(ctx, terminalRW{in, out}, "undostore> ", reg)
}

type terminalRW struct {
	*os.File
	out io.Writer
}

func (t terminalRW) Write(p []byte) (int, error) {
	return t.out.Write(p)
}

// openStore builds the configured backend and opens the store on it.
func openStore(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*store.Store, error) {
	path := config.ExpandHome(cfg.Store.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	var backend snapshot.Backend
	switch cfg.Store.Backend {
	case config.BackendBolt:
		b, err := boltsnap.Open(path)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		backend = b
	default:
		backend = filesnap.New(path)
	}

	s, err := store.Open(ctx, backend, cfg.Store.Load, store.WithMetrics(reg))
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	return s, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "addr", addr, "err", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}
