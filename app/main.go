package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/tateisu/mastodonInboxFilter/app/api"
	"github.com/tateisu/mastodonInboxFilter/app/audit"
	"github.com/tateisu/mastodonInboxFilter/app/cfg"
	"github.com/tateisu/mastodonInboxFilter/app/database"
	"github.com/tateisu/mastodonInboxFilter/app/fetch"
	"github.com/tateisu/mastodonInboxFilter/app/pidfile"
	"github.com/tateisu/mastodonInboxFilter/app/report"
	"github.com/tateisu/mastodonInboxFilter/app/retention"
	"github.com/tateisu/mastodonInboxFilter/app/spam"
)

const sweepMaxAge = 24 * time.Hour

type cliOptions struct {
	ConfigTest bool   `long:"configTest" description:"config test only."`
	AutoReport bool   `long:"autoReport" description:"not run server, check logs and send DM to remote server admin."`
	NoPost     bool   `long:"noPost" description:"(with autoReport) not post DMs, just get summary."`
	Hours      int    `long:"hours" default:"24" description:"(with autoReport) check the logs going back the specified number of hours."`
	TestReport string `long:"testReport" description:"(with autoReport) just send a test report message to the specified mention."`

	Args struct {
		Config string `positional-arg-name:"config" description:"config file"`
	} `positional-args:"yes"`
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	var opts cliOptions
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	configPath := opts.Args.Config
	if configPath == "" {
		configPath = "config.yml"
	}
	config, err := cfg.Load(configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}

	if opts.ConfigTest {
		return
	}

	if opts.AutoReport {
		err := report.Run(context.Background(), config, report.Options{
			NoPost:        opts.NoPost,
			Hours:         opts.Hours,
			TestMentionTo: opts.TestReport,
		})
		if err != nil {
			slog.Error("Auto report failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := pidfile.Write(config.PidFile); err != nil {
		slog.Error("PID file check failed", "path", config.PidFile, "error", err)
		os.Exit(1)
	}
	slog.Info("Program start", "pid", os.Getpid())

	if err := os.MkdirAll(config.RecordDir, 0o755); err != nil {
		slog.Error("Failed to create record directory", "dir", config.RecordDir, "error", err)
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout: time.Duration(config.RequestTimeoutMs) * time.Millisecond,
	}

	fetcher, err := fetch.NewClient(httpClient, config.UserAgent, config.CacheDir)
	if err != nil {
		slog.Error("Failed to set up fetch cache", "dir", config.CacheDir, "error", err)
		os.Exit(1)
	}

	db, err := database.NewConnection(config.AuditDbPath)
	if err != nil {
		slog.Error("Failed to open audit index", "path", config.AuditDbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Audit index ready", "version", version, "dirty", dirty)
	msgRepo := database.NewMessageRepository(db)

	auditor := audit.NewLogger(config.RecordDir, msgRepo, 1024)
	auditor.Start()

	checker := spam.NewChecker(config, fetcher)
	handler := api.NewHandler(config, httpClient, checker, auditor, msgRepo)
	server := api.NewServer(handler)

	addr := fmt.Sprintf("%s:%d", config.ListenHost, config.ListenPort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sweeper := retention.NewSweeper(sweepMaxAge,
		config.RecordDir, fetcher.DataDir(), fetcher.ErrorDir())
	sweeper.Start()

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Server start", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	// Shutdown order matters: stop accepting requests first, then let the
	// audit consumer drain, and only then release the shared HTTP client.
	slog.Info("Server stop", "addr", addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	sweeper.Stop()
	auditor.Close()
	httpClient.CloseIdleConnections()
	slog.Info("All resources are closed")
}
