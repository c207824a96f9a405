// Package main runs an Object Builder process: hosts the Materializer
// RPC service, resolving a requested view against a local view
// catalogue, the Edge Registry, and each referenced schema's Query
// Service to stream back materialized rows.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/commondatalayer/cdl/internal/config"
	"github.com/commondatalayer/cdl/internal/httpmid"
	"github.com/commondatalayer/cdl/internal/objectbuilder"
	"github.com/commondatalayer/cdl/internal/obsmetrics"
	"github.com/commondatalayer/cdl/internal/registrycache"
	"github.com/commondatalayer/cdl/internal/rpc"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("object-builder: config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("object-builder: exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	views, err := objectbuilder.LoadViewStore(cfg.ViewCatalogPath)
	if err != nil {
		return fmt.Errorf("load view catalogue: %w", err)
	}

	registryConn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial schema registry: %w", err)
	}
	defer registryConn.Close()
	registryClient := rpc.NewSchemaRegistryClient(registryConn)

	cache := registrycache.New(cfg.RegistryCacheCapacity, cfg.RegistryCacheTTL, registryClient)
	go cache.Watch(ctx, registryClient)

	edgeConn, err := grpc.NewClient(cfg.EdgeRegistryAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial edge registry: %w", err)
	}
	defer edgeConn.Close()
	edgeClient := rpc.NewEdgeRegistryClient(edgeConn)

	queryPool := objectbuilder.NewQueryPool()
	defer queryPool.Close()

	builder := objectbuilder.New(views, cache, edgeClient, queryPool, cfg.MaterializeChunkRows, logger)

	lis, err := net.Listen("tcp", cfg.ObjectBuilderAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ObjectBuilderAddr, err)
	}
	grpcSrv := grpc.NewServer()
	rpc.RegisterMaterializerServer(grpcSrv, builder)

	metrics := obsmetrics.New()
	health := httpmid.NewHealthMux()
	health.SetReady(true)

	mux := http.NewServeMux()
	health.Register(mux)
	metrics.Register(mux)
	httpSrv := &http.Server{Addr: cfg.HealthAddr, Handler: httpmid.Chain(mux, httpmid.Recover(logger), httpmid.Logger(logger))}

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	go func() {
		logger.Info("object-builder: listening", "addr", cfg.ObjectBuilderAddr)
		errCh <- grpcSrv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("object-builder: shutdown signal received")
	}

	grpcSrv.GracefulStop()

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
