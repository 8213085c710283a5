// Command fluux-agent runs an AI agent that connects to any XMPP
// server, in component (XEP-0114) or client (C2S) mode, and bridges
// conversations to an LLM backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/processone/fluux-agent/internal/agent"
	"github.com/processone/fluux-agent/internal/config"
	"github.com/processone/fluux-agent/internal/files"
	"github.com/processone/fluux-agent/internal/llm"
	"github.com/processone/fluux-agent/internal/memory"
	"github.com/processone/fluux-agent/internal/skills"
	"github.com/processone/fluux-agent/internal/xmpp"
)

const version = "1.0.0"

const banner = `
   _____ _                      _                    _
  |  ___| |_   _ _   ___  __   / \   __ _  ___ _ __ | |_
  | |_  | | | | | | | \ \/ /  / _ \ / _` + "`" + ` |/ _ \ '_ \| __|
  |  _| | | |_| | |_| |>  <  / ___ \ (_| |  __/ | | | |_
  |_|   |_|\__,_|\__,_/_/\_\/_/   \_\__, |\___|_| |_|\__|
                                     |___/   v%s
`

func main() {
	var (
		configPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:          "fluux-agent",
		Short:        "An AI agent runtime that connects to any XMPP server",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "config/agent.yaml", "path to the configuration file")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	log := newLogger(logLevel)
	slog.SetDefault(log)

	fmt.Printf(banner, version)

	log.Info("loading configuration", "path", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	opts := cfg.XMPPOptions()
	opts.Logger = log

	log.Info("agent", "name", cfg.Agent.Name)
	log.Info("xmpp", "mode", opts.ModeDescription())
	log.Info("llm", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	log.Info("allowed jids", "jids", strings.Join(cfg.Agent.AllowedJIDs, ", "))
	if len(cfg.Agent.AllowedDomains) == 0 {
		log.Info("allowed domains", "domains", opts.Domain()+" (default, own domain only)")
	} else {
		log.Info("allowed domains", "domains", strings.Join(cfg.Agent.AllowedDomains, ", "))
	}
	for _, room := range cfg.Rooms {
		log.Info("room", "jid", room.JID, "nick", room.Nick)
	}

	workspace, err := memory.Open(cfg.Memory.Path, log)
	if err != nil {
		return err
	}
	client, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}
	registry, err := skills.Build(cfg.Skills, log)
	if err != nil {
		return err
	}
	log.Info("skills registered", "count", registry.Len())

	downloader := files.NewDownloader(3, opts.TLSVerify, log)
	engine := xmpp.NewEngine(opts)
	runtime, err := agent.New(cfg, opts, engine, client, workspace, registry, downloader, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := startMetricsServer(ctx, cfg.Observability.MetricsPort, log); err != nil {
		return err
	}

	go func() {
		if err := runtime.Run(ctx); err != nil {
			log.Error("runtime error", "error", err)
		}
	}()

	// Run blocks until shutdown or a permanent error: bad credentials,
	// a resource conflict, or the reconnect budget running out.
	if err := engine.Run(ctx); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// startMetricsServer exposes the Prometheus counters on /metrics and a
// liveness probe on /healthz. A port of 0 disables the listener.
func startMetricsServer(ctx context.Context, port int, log *slog.Logger) error {
	if port == 0 {
		return nil
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("metrics server listening", "addr", addr)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
