package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	bridgeapi "github.com/aegis-sign/wallet-bridge/internal/api"
	"github.com/aegis-sign/wallet-bridge/internal/app/bridge"
	"github.com/aegis-sign/wallet-bridge/internal/app/wallet"
	"github.com/aegis-sign/wallet-bridge/internal/app/wallet/stub"
	"github.com/aegis-sign/wallet-bridge/internal/config"
	"github.com/aegis-sign/wallet-bridge/internal/gateway/eventloop"
	"github.com/aegis-sign/wallet-bridge/internal/infra/listener"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("bridge-api exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	loop := eventloop.New(eventloop.Config{
		QueueSize: cfg.Loop.QueueSize,
		Logger:    logger,
		Metrics:   eventloop.NewMetrics(reg),
	})
	defer loop.Close()

	adapter := wallet.NewAdapter(wallet.AdapterConfig{
		Endpoint: cfg.Endpoint,
		Logger:   logger,
		Metrics:  wallet.NewMetrics(reg),
	})
	ext, err := newStubWallet(cfg.Stub)
	if err != nil {
		return err
	}

	hub := bridgeapi.NewHub(cfg.Loop.EventBuffer, logger, reg)
	metrics := bridge.NewMetrics(reg)
	registry := bridge.NewRegistry(bridge.RegistryConfig{
		Logger:         logger,
		Metrics:        metrics,
		TracerProvider: otel.GetTracerProvider(),
	})
	notifier, err := bridge.NewNotifier(bridge.NotifierConfig{
		Emitter:   hub,
		Scheduler: loop,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}
	ui, err := bridge.NewAutoConnectUI(adapter, ext, cfg.AutoConnect, logger)
	if err != nil {
		return err
	}

	healthSrv := health.NewServer()
	registrar, err := bridge.NewRegistrar(bridge.RegistrarConfig{
		AnchorID:      cfg.AnchorID,
		Accounts:      adapter,
		Registry:      registry,
		Handlers:      bridge.NewHandlers(adapter, logger),
		Notifier:      notifier,
		UI:            ui,
		Logger:        logger,
		Metrics:       metrics,
		OnStateChange: bridgeapi.MountHealth(healthSrv),
	})
	if err != nil {
		return err
	}

	backend := bridgeapi.Backend{
		Callables: registry,
		Registrar: registrar,
		Wallet:    adapter,
		Events:    hub,
	}

	// HTTP server wiring
	handler := bridgeapi.NewHTTPHandler(backend, bridgeapi.HTTPConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Session: bridgeapi.SessionConfig{
			MaxMessageBytes: cfg.Session.MaxMessageBytes,
			RatePerSecond:   cfg.Session.RatePerSecond,
			Burst:           cfg.Session.Burst,
			MaxDecodeErrors: cfg.Session.MaxDecodeErrors,
			CallTimeout:     cfg.Session.CallTimeout,
		},
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Debug:   loop.DebugHandler(),
		Logger:  logger,
	})
	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler.Router(),
	}
	go func() {
		logger.Info("HTTP server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server closed unexpectedly", "error", err)
			stop()
		}
	}()

	// gRPC server wiring: tcp, unix:// or vsock://
	lis, err := listener.Listen(cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen for gRPC on %s: %w", cfg.GRPCAddr, err)
	}
	grpcSrv := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    cfg.Keepalive.Time,
		Timeout: cfg.Keepalive.Timeout,
	}))
	bridgeapi.RegisterBridgeServer(grpcSrv, bridgeapi.NewGRPCServer(backend))
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server closed unexpectedly", "error", err)
			stop()
		}
	}()

	logger.Info("wallet bridge ready",
		"anchor", cfg.AnchorID,
		"wallet", ext.Name(),
		"auto_connect", cfg.AutoConnect,
		"endpoint", cfg.Endpoint,
	)
	<-ctx.Done()
	logger.Info("shutting down servers")

	healthSrv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	grpcSrv.GracefulStop()
	if err := registrar.Unmount(shutdownCtx); err != nil {
		logger.Warn("unmount on shutdown failed", "error", err)
	}
	ui.Wait()
	if err := loop.Flush(shutdownCtx); err != nil {
		logger.Warn("event loop flush failed", "error", err)
	}
	return nil
}

func newStubWallet(cfg config.StubConfig) (*stub.Wallet, error) {
	var opts []stub.Option
	if cfg.Key != "" {
		key, err := solana.PrivateKeyFromBase58(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("decode stub key: %w", err)
		}
		opts = append(opts, stub.WithKey(key))
	}
	return stub.New(cfg.Name, opts...)
}
