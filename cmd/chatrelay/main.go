package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/anirudhms/chatrelay/internal/config"
	"github.com/anirudhms/chatrelay/internal/httpserver"
	"github.com/anirudhms/chatrelay/internal/metrics"
	"github.com/anirudhms/chatrelay/internal/relay"
	"github.com/anirudhms/chatrelay/internal/store"
	"github.com/anirudhms/chatrelay/internal/upload"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting chatrelay",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"ws_idle_timeout", cfg.WSIdleTimeout,
		"ws_ping_interval", cfg.WSPingInterval,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
		"send_buffer_messages", cfg.SendBufferMessages,
		"database_url_set", cfg.DatabaseURL != "",
		"ice_servers", len(cfg.ICEServers),
	)

	logStartupSecurityWarnings(logger, cfg)

	m := metrics.New()

	var db *store.Store
	if cfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err = store.Connect(connectCtx, cfg.DatabaseURL, m)
		if err == nil {
			err = db.Migrate(connectCtx)
		}
		cancel()
		if err != nil {
			logger.Error("failed to open database", "err", err)
			os.Exit(2)
		}
		defer db.Close()
	}

	uploads, err := upload.New(cfg.UploadDir, cfg.PublicBaseURL, cfg.MaxUploadBytes, logger, m)
	if err != nil {
		logger.Error("failed to prepare upload dir", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	hub := relay.NewHub(logger, m)
	go hub.Run()

	srv.Mux().Handle("GET /ws", relay.Handler(hub, logger, m, relay.ConnOptions{
		IdleTimeout:          cfg.WSIdleTimeout,
		PingInterval:         cfg.WSPingInterval,
		WriteTimeout:         cfg.WSWriteTimeout,
		MaxMessageBytes:      cfg.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		SendBuffer:           cfg.SendBufferMessages,
	}))

	store.NewAPI(db, logger).Register(srv.Mux())
	uploads.Register(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	// Live room introspection, answered from inside the hub loop.
	srv.Mux().HandleFunc("GET /debug/rooms", func(w http.ResponseWriter, r *http.Request) {
		callRooms, err := hub.CallRooms(r.Context())
		if err != nil {
			httpserver.WriteError(w, http.StatusServiceUnavailable, "unavailable", "hub is shutting down")
			return
		}
		chatRooms, err := hub.ChatRooms(r.Context())
		if err != nil {
			httpserver.WriteError(w, http.StatusServiceUnavailable, "unavailable", "hub is shutting down")
			return
		}
		httpserver.WriteJSON(w, http.StatusOK, map[string][]string{
			"callRooms": callRooms,
			"chatRooms": chatRooms,
		})
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		hub.Stop()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	hub.Stop()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
