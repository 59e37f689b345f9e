// Package main is the entry point for the Mission Control server: the durable
// event feed, the live fan-out stream, and the agent chat proxy behind one
// HTTP listener.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/agents"
	"github.com/missionctl/missionctl/internal/chatproxy"
	"github.com/missionctl/missionctl/internal/common/config"
	"github.com/missionctl/missionctl/internal/common/httpmw"
	"github.com/missionctl/missionctl/internal/common/logger"
	"github.com/missionctl/missionctl/internal/common/tracing"
	"github.com/missionctl/missionctl/internal/db"
	"github.com/missionctl/missionctl/internal/gateway"
	gatewayws "github.com/missionctl/missionctl/internal/gateway/websocket"
	"github.com/missionctl/missionctl/internal/ingest"
	"github.com/missionctl/missionctl/internal/store"
	"github.com/missionctl/missionctl/internal/stream"
)

const serverName = "missionctl"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting Mission Control...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Tracing (no-op without OTEL_EXPORTER_OTLP_ENDPOINT)
	tracing.Tracer(serverName)

	// 4. Event store
	pool, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	st, err := store.New(pool)
	if err != nil {
		log.Fatal("Failed to initialize event store", zap.Error(err))
	}
	log.Info("Event store ready", zap.String("driver", pool.DriverName()))

	// 5. Stream broker
	broker, err := openBroker(ctx, cfg.Broker, log)
	if err != nil {
		log.Fatal("Failed to connect stream broker", zap.Error(err))
	}

	// 6. Agent directory
	directory, err := agents.Load(cfg.Agents, log)
	if err != nil {
		log.Fatal("Failed to load agent directory", zap.Error(err))
	}

	// 7. Ingest pipeline
	svc := ingest.NewService(st, broker, directory, log)

	// 8. HTTP surface
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.CORS())
	router.Use(httpmw.RequestLogger(log, serverName))
	router.Use(httpmw.OtelTracing(serverName))

	gateway.RegisterRoutes(router, svc, st, cfg.Auth.Token, log)

	hub := gatewayws.NewHub(broker, cfg.Auth.Token, log)
	gatewayws.RegisterRoutes(router, hub, log)

	proxy := chatproxy.NewProxy(directory, svc, cfg.Agents.UpstreamScheme, log)
	chatproxy.RegisterRoutes(router, proxy)

	server := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeoutDuration(),
		// Zero keeps /ws/events and proxied WebSockets alive indefinitely.
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Mission Control listening",
			zap.String("addr", server.Addr),
			zap.Bool("auth", cfg.Auth.Enabled()),
			zap.Strings("agents", directory.Slugs()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Mission Control...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Subscribers first so the listener can drain, then the shared pieces.
	hub.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}
	if err := broker.Close(); err != nil {
		log.Error("Broker close error", zap.Error(err))
	}
	if err := pool.Close(); err != nil {
		log.Error("Database close error", zap.Error(err))
	}

	log.Info("Mission Control stopped")
}

// openBroker picks the stream implementation by URL: redis:// selects a
// shared Redis stream, empty selects the in-process broker.
func openBroker(ctx context.Context, cfg config.BrokerConfig, log *logger.Logger) (stream.Broker, error) {
	if cfg.URL == "" {
		log.Info("Using in-process stream broker", zap.Int64("max_len", cfg.MaxLen))
		return stream.NewMemoryBroker(cfg.MaxLen), nil
	}

	client, err := stream.DialRedis(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Info("Using Redis stream broker",
		zap.String("key", cfg.StreamKey),
		zap.Int64("max_len", cfg.MaxLen))
	return stream.NewRedisBroker(client, cfg.StreamKey, cfg.MaxLen), nil
}
