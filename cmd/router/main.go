// Package main runs the Data Router: consumes inbound insert messages
// from one configured transport, resolves each entry's destination via
// the registry cache, and republishes to the sink-specific queue/topic.
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

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/commondatalayer/cdl/internal/config"
	"github.com/commondatalayer/cdl/internal/httpmid"
	"github.com/commondatalayer/cdl/internal/obsmetrics"
	"github.com/commondatalayer/cdl/internal/ordergate"
	"github.com/commondatalayer/cdl/internal/registrycache"
	"github.com/commondatalayer/cdl/internal/router"
	"github.com/commondatalayer/cdl/internal/rpc"
	"github.com/commondatalayer/cdl/internal/transport"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("router: config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("router: exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := obsmetrics.New()
	health := httpmid.NewHealthMux()

	registryConn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial schema registry: %w", err)
	}
	defer registryConn.Close()
	registryClient := rpc.NewSchemaRegistryClient(registryConn)

	cache := registrycache.New(cfg.RegistryCacheCapacity, cfg.RegistryCacheTTL, registryClient)
	go cache.Watch(ctx, registryClient)

	consumer, publisher, closeTransport, err := dialTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("dial transport: %w", err)
	}
	defer closeTransport()

	r := router.New(ordergate.New(), cache, emptyRoutingTable{}, publisher, logger)

	health.AddCheck("registry_cache", func() error { return nil })
	health.SetReady(true)

	mux := http.NewServeMux()
	health.Register(mux)
	metrics.Register(mux)
	httpSrv := &http.Server{Addr: cfg.HealthAddr, Handler: httpmid.Chain(mux, httpmid.Recover(logger), httpmid.Logger(logger))}

	pc := transport.NewParallelConsumer(consumer, cfg.TaskLimit, logger)

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	go func() { errCh <- pc.Run(ctx, r.Handle) }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("router: shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// emptyRoutingTable never resolves a repository_id override; every insert
// falls through to the schema's registry-resolved destination. A
// deployment that needs repository-scoped overrides supplies its own
// router.RoutingTable here — out-of-band deployment glue, not a core
// concern.
type emptyRoutingTable struct{}

func (emptyRoutingTable) Lookup(uuid.UUID) (string, bool) { return "", false }

func dialTransport(ctx context.Context, cfg config.Config) (transport.Consumer, transport.Publisher, func(), error) {
	switch cfg.Transport {
	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		consumer, err := transport.NewRedisConsumer(ctx, client, cfg.RedisStream, "cdl-router", "router-1", int64(cfg.ChunkCapacity))
		if err != nil {
			client.Close()
			return nil, nil, nil, err
		}
		publisher := transport.NewRedisPublisher(client)
		return consumer, publisher, func() { consumer.Close(); publisher.Close() }, nil

	case config.TransportGRPC:
		conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, nil, err
		}
		publisher, err := transport.NewGRPCPublisher(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, nil, nil, err
		}
		return nil, publisher, func() { publisher.Close(); conn.Close() }, fmt.Errorf("router: grpc transport requires a hosted Transport server for its consumer side, not yet wired into this binary")

	default:
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, nil, nil, err
		}
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, nil, nil, err
		}
		if _, err := js.AddStream(&nats.StreamConfig{Name: cfg.NATSStream, Subjects: []string{cfg.NATSStream + ".*"}}); err != nil {
			// stream already existing is fine
			_ = err
		}
		consumer, err := transport.NewNATSConsumer(ctx, js, cfg.NATSStream+".insert", "cdl-router", cfg.ChunkCapacity)
		if err != nil {
			nc.Close()
			return nil, nil, nil, err
		}
		publisher := transport.NewNATSPublisher(js)
		return consumer, publisher, func() { consumer.Close(); nc.Close() }, nil
	}
}
