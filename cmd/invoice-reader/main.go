package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-reader/internal/document"
	"github.com/zombor/invoice-reader/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, fs, err := parseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if cfg.showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, logCloser, err := newLogger(os.Stderr, cfg.logLevel, cfg.logFormat, cfg.logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, err := buildAdapter(ctx, cfg, scanning.ExecRunner{})
	if err != nil {
		slog.Error("Failed to initialize backend", "error", err)
		os.Exit(1)
	}
	defer adapter.Close()

	if cfg.check {
		code := check(ctx, adapter, cfg.timeout)
		adapter.Close()
		logCloser.Close()
		os.Exit(code)
	}

	// A missing model or tool is reported but does not stop the server; the
	// health endpoint keeps reporting it until it is fixed
	checkCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	if err := adapter.Available(checkCtx); err != nil {
		slog.Warn("Backend is not available yet", "strategy", adapter.Name(), "error", err)
	}
	cancel()

	slog.Info("Initializing database...", "path", cfg.dbPath)
	db, err := document.NewBoltDB(cfg.dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	service := document.NewService(db, adapter)
	server := document.NewServer(service, document.BasicAuth{
		Username: cfg.authUser,
		Password: cfg.authPass,
	})

	if cfg.authUser != "" || cfg.authPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.authUser)
	}

	addr := fmt.Sprintf(":%d", cfg.port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutting down...")
}

// check asks the backend once whether it is available and returns the process exit code
func check(ctx context.Context, adapter *scanning.Adapter, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := adapter.Available(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: unavailable: %v\n", adapter.Name(), err)
		return 1
	}
	fmt.Printf("%s: available\n", adapter.Name())
	return 0
}
