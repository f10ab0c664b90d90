package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/cmhcmh79/freecell-vs/internal/config"
	"github.com/cmhcmh79/freecell-vs/internal/logging"
	"github.com/cmhcmh79/freecell-vs/internal/relay"
)

// relayService is the name reported by the gRPC health service.
const relayService = "freecell.relay"

var version = "dev" // set via ldflags during build

func main() {
	flags := pflag.NewFlagSet("relay", pflag.ExitOnError)
	configPath := flags.String("config", "config/config.yaml", "path to configuration file")
	flags.String("address", "", "websocket listen address (overrides relay.address)")
	flags.String("grpc-address", "", "gRPC health listen address (overrides relay.grpc.address)")
	flags.String("log-level", "", "log level (overrides logging.level)")
	_ = flags.Parse(os.Args[1:])

	// Load configuration
	v := config.New()
	bindFlag(v, flags, "relay.address", "address")
	bindFlag(v, flags, "relay.grpc.address", "grpc-address")
	bindFlag(v, flags, "logging.level", "log-level")
	if err := config.ReadFile(v, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Decode(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting relay",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	hub := relay.NewHub(relay.Options{
		SendBuffer:     cfg.Relay.SendBuffer,
		MaxMessageSize: cfg.Relay.MaxMessageSize,
		AllowedOrigins: cfg.Relay.AllowedOrigins,
		Logger:         logger.Named("hub"),
	})
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle(cfg.Relay.Path, hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		clients, topics := hub.Stats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"version": version,
			"clients": clients,
			"topics":  topics,
		})
	})
	httpServer := &http.Server{
		Addr:              cfg.Relay.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			LoggingInterceptor(logger),
		),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.MaxConcurrentStreams(uint32(cfg.Relay.GRPC.MaxConcurrentStreams)),
	)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.Relay.GRPC.Address)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	// Start gRPC health server
	go func() {
		logger.Info("starting gRPC health server", zap.String("address", cfg.Relay.GRPC.Address))
		if serveErr := grpcServer.Serve(lis); serveErr != nil {
			logger.Error("gRPC server error", zap.Error(serveErr))
		}
	}()

	// Start WebSocket server
	go func() {
		logger.Info("starting websocket relay",
			zap.String("address", cfg.Relay.Address),
			zap.String("path", cfg.Relay.Path),
		)
		if wsErr := httpServer.ListenAndServe(); wsErr != nil && !errors.Is(wsErr, http.ErrServerClosed) {
			logger.Error("websocket server error", zap.Error(wsErr))
			sigChan <- syscall.SIGTERM
		}
	}()

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(relayService, healthpb.HealthCheckResponse_SERVING)

	// Wait for termination signal
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown
	logger.Info("shutting down gracefully...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownGrace)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket server shutdown", zap.Error(err))
	}
	cancel()

	grpcServer.GracefulStop()

	logger.Info("relay stopped")
}

type flagBinder interface {
	BindPFlag(key string, flag *pflag.Flag) error
}

// bindFlag lets a flag override key only when it was set on the command line.
func bindFlag(v flagBinder, flags *pflag.FlagSet, key, name string) {
	if f := flags.Lookup(name); f != nil {
		_ = v.BindPFlag(key, f)
	}
}
