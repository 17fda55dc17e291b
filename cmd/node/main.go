package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gochatmesh/noded/internal/clientapi"
	"github.com/gochatmesh/noded/internal/config"
	"github.com/gochatmesh/noded/internal/failuredetector"
	"github.com/gochatmesh/noded/internal/logging"
	"github.com/gochatmesh/noded/internal/observability"
	"github.com/gochatmesh/noded/internal/peers"
	"github.com/gochatmesh/noded/internal/roomstate"
	"github.com/gochatmesh/noded/internal/rpc"
)

func main() {
	cfg := config.Load()

	otelCleanup, err := observability.Init("noded", "1.0.0", cfg.NodeID)
	if err != nil {
		log.Fatalf("failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		if err := otelCleanup(context.Background()); err != nil {
			log.Printf("error shutting down OpenTelemetry: %v", err)
		}
	}()

	logger := logging.New(cfg.LogLevel)
	metrics := observability.NewMetrics()

	rooms := roomstate.New(cfg.NodeID, cfg.MessageBufferCap)
	registry := peers.New(cfg.NodeID, cfg.Peers)
	pool := rpc.NewPool(cfg.Peers, cfg.RPCWorkerPoolSize, cfg.RPCCallTimeout, metrics, logger)

	server := clientapi.New(rooms, registry, pool, metrics, logger, clientapi.Config{
		MaxContentLength: cfg.MaxContentLength,
		DiscoverTimeout:  cfg.DiscoverTimeout,
		BroadcastTimeout: cfg.BroadcastTimeout,
		PrepareTimeout:   cfg.PrepareTimeout,
		CommitTimeout:    cfg.CommitTimeout,
	})

	detector := failuredetector.New(rooms, registry, pool, server, metrics, logger, failuredetector.Config{
		HeartbeatInterval:    cfg.HeartbeatInterval,
		HeartbeatTimeout:     cfg.HeartbeatTimeout,
		MaxHeartbeatFailures: cfg.MaxHeartbeatFailures,
		CleanupInterval:      cfg.CleanupInterval,
		InactivityTimeout:    cfg.InactivityTimeout,
	})
	detectorCtx, stopDetector := context.WithCancel(context.Background())
	go detector.Run(detectorCtx)

	rpcServer := rpc.NewServer(server, logger)
	rpcHTTPServer := &http.Server{
		Addr:         cfg.RPCAddr,
		Handler:      rpcServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info(context.Background(), "starting inter-node RPC listener", "addr", cfg.RPCAddr)
		if err := rpcHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(context.Background(), "RPC server error", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.ServeWS)
	mux.HandleFunc("/healthz", server.Healthz)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	clientHTTPServer := &http.Server{
		Addr:         cfg.ClientAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info(context.Background(), "starting client endpoint", "addr", cfg.ClientAddr)
		if err := clientHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(context.Background(), "client server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// otelCleanup is not invoked here; the defer registered above runs it
	// exactly once, after this function returns.
	gracefulShutdown(context.Background(), logger, clientHTTPServer, rpcHTTPServer, stopDetector)

	logger.Info(context.Background(), "node stopped")
}

func gracefulShutdown(ctx context.Context, logger *logging.Logger, clientHTTPServer, rpcHTTPServer *http.Server, stopDetector func()) {
	logger.Info(ctx, "shutting down node...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := clientHTTPServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "client endpoint shutdown error", "error", err)
	} else {
		logger.Info(ctx, "client endpoint stopped")
	}

	if err := rpcHTTPServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "RPC endpoint shutdown error", "error", err)
	} else {
		logger.Info(ctx, "RPC endpoint stopped")
	}

	stopDetector()
	logger.Info(ctx, "failure detector stopped")

	logger.Info(ctx, "graceful shutdown complete")
}
