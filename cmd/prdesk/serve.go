package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/prdesk/internal/api"
	"github.com/ashureev/prdesk/internal/config"
	"github.com/ashureev/prdesk/internal/convlog"
	"github.com/ashureev/prdesk/internal/events"
	"github.com/ashureev/prdesk/internal/inference"
	"github.com/ashureev/prdesk/internal/middleware"
	"github.com/ashureev/prdesk/internal/orchestrator"
	"github.com/ashureev/prdesk/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "transport", cfg.Inference.Transport)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	if _, err := store.LoadProfileSeed(ctx, repo, cfg.ProfilesSeedPath); err != nil {
		return err
	}

	client, err := inference.New(inferenceConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("initialize inference client: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			slog.Warn("Failed to close inference client", "error", closeErr)
		}
	}()

	turnLog, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() {
		if closeErr := turnLog.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	bus := events.NewBus(32)
	bus.OnEvent(archiveListener(repo))

	svc := orchestrator.NewService(client,
		orchestrator.WithArtifactSink(bus),
		orchestrator.WithTurnLogger(turnLog),
		orchestrator.WithProviderTimeout(cfg.Inference.Timeout),
		orchestrator.WithLogger(logger),
	)
	mgr := orchestrator.NewManager()

	endSession := func(ownerID, sessionID string) {
		bus.CloseSession(sessionID)
		turnLog.CloseSession(ownerID, sessionID)
	}

	lookup := func(ownerID, sessionID string) bool {
		_, err := mgr.Get(ownerID, sessionID)
		return err == nil
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimitRequests > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	}

	router := api.NewRouter(api.RouterConfig{
		Sessions:       api.NewSessionHandler(mgr, svc, repo, endSession),
		Profiles:       api.NewProfileHandler(repo),
		Health:         api.NewHealthHandler(repo, api.PingFunc(client.Health), mgr.Len),
		Events:         events.NewWebSocketHandler(bus, lookup, originPatterns(cfg), 30*time.Second),
		RateLimiter:    limiter,
		MaxBodySize:    cfg.MaxRequestBodySize,
		AllowedOrigins: cfg.AllowedOrigins(),
		IsDevelopment:  cfg.IsDevelopment(),
	})

	// No WriteTimeout: the event stream is long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("Idle session sweeper started", "ttl", cfg.SessionIdleTTL, "interval", cfg.SweepInterval)
		return orchestrator.RunSweeper(gctx, mgr, cfg.SessionIdleTTL, cfg.SweepInterval, endSession)
	})

	if limiter != nil {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.RateLimitWindow)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if n := limiter.Prune(); n > 0 {
						slog.Debug("Pruned idle rate limiters", "count", n)
					}
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}

// archiveListener persists every artifact-created event.
func archiveListener(repo store.Repository) events.Listener {
	return func(ev events.Event) {
		if ev.Type != events.TypeArtifactCreated {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.SaveArtifact(ctx, ev.Artifact); err != nil {
			slog.Error("Failed to archive artifact",
				"error", err,
				"session_id", ev.SessionID,
				"seq", ev.Artifact.Seq,
			)
		}
	}
}

func inferenceConfig(cfg *config.Config) inference.Config {
	return inference.Config{
		Transport:        cfg.Inference.Transport,
		HTTPURL:          cfg.Inference.HTTPURL,
		GRPCAddr:         cfg.Inference.GRPCAddr,
		Timeout:          cfg.Inference.Timeout,
		ConnectTimeout:   cfg.Inference.ConnectTimeout,
		KeepaliveTime:    cfg.Inference.KeepaliveTime,
		KeepaliveTimeout: cfg.Inference.KeepaliveTimeout,
	}
}

// originPatterns converts allowed origins into the host patterns the
// WebSocket handshake checks.
func originPatterns(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"localhost:*", "127.0.0.1:*"}
	}
	var hosts []string
	for _, o := range cfg.AllowedOrigins() {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}
