// Package main runs a Command Service Core process: consumes
// BorrowedInsertMessages from one transport and writes them to exactly
// one configured sink backend (neo4j, qdrant, cassandra, or postgres).
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gocql "github.com/apache/cassandra-gocql-driver/v2"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nats-io/nats.go"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	_ "github.com/lib/pq"

	"github.com/commondatalayer/cdl/internal/command"
	"github.com/commondatalayer/cdl/internal/command/dedup"
	"github.com/commondatalayer/cdl/internal/command/sink/cassandrasink"
	"github.com/commondatalayer/cdl/internal/command/sink/neo4jsink"
	"github.com/commondatalayer/cdl/internal/command/sink/postgressink"
	"github.com/commondatalayer/cdl/internal/command/sink/qdrantsink"
	"github.com/commondatalayer/cdl/internal/config"
	"github.com/commondatalayer/cdl/internal/httpmid"
	"github.com/commondatalayer/cdl/internal/obsmetrics"
	"github.com/commondatalayer/cdl/internal/ordergate"
	"github.com/commondatalayer/cdl/internal/resilience"
	"github.com/commondatalayer/cdl/internal/transport"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("command-service: config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("command-service: exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	plugin, closeSink, err := buildSink(cfg)
	if err != nil {
		return fmt.Errorf("build sink: %w", err)
	}
	defer closeSink()

	breaker := resilience.NewBreaker(resilience.BreakerOpts{
		FailThreshold: cfg.SinkBreakerFailThreshold,
		Timeout:       cfg.SinkBreakerTimeout,
	})
	var limiter *resilience.Limiter
	if cfg.SinkRateLimitPerSec > 0 {
		limiter = resilience.NewLimiter(cfg.SinkRateLimitPerSec, cfg.SinkRateBurst)
	}
	plugin = command.NewResilientPlugin(plugin, breaker, limiter)

	consumer, closeTransport, err := dialConsumer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("dial transport: %w", err)
	}
	defer closeTransport()

	var reporter command.Reporter = command.DisabledReporter{}
	if cfg.NotifyDestination != "" {
		notifyPublisher, closeNotify, err := dialPublisherOnly(ctx, cfg)
		if err != nil {
			return fmt.Errorf("dial notify publisher: %w", err)
		}
		defer closeNotify()
		reporter = command.NewFullReporter(cfg.ServiceName, cfg.NotifyDestination, notifyPublisher)
	}

	mr := command.New(plugin, reporter, ordergate.New(), false, logger)
	if cfg.DedupEnabled {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.DedupRedis})
		defer redisClient.Close()
		mr = mr.WithDedup(dedup.NewRedisTable(redisClient, cfg.RegistryCacheTTL))
	}

	metrics := obsmetrics.New()
	health := httpmid.NewHealthMux()
	health.SetReady(true)

	mux := http.NewServeMux()
	health.Register(mux)
	metrics.Register(mux)
	httpSrv := &http.Server{Addr: cfg.HealthAddr, Handler: httpmid.Chain(mux, httpmid.Recover(logger), httpmid.Logger(logger))}

	pc := transport.NewParallelConsumer(consumer, cfg.TaskLimit, logger)

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	go func() { errCh <- pc.Run(ctx, mr.Handle) }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("command-service: shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

func buildSink(cfg config.Config) (command.OutputPlugin, func(), error) {
	switch cfg.CommandSink {
	case "neo4j":
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
		if err != nil {
			return nil, nil, fmt.Errorf("neo4j driver: %w", err)
		}
		return neo4jsink.New(driver, cfg.Neo4jLabel), func() { driver.Close(context.Background()) }, nil

	case "qdrant":
		conn, err := grpc.NewClient(cfg.QdrantAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("qdrant dial: %w", err)
		}
		return qdrantsink.New(pb.NewPointsClient(conn), cfg.QdrantCollection), func() { conn.Close() }, nil

	case "cassandra":
		cluster := gocql.NewCluster(cfg.CassandraHosts...)
		cluster.Keyspace = cfg.CassandraKeyspace
		session, err := cluster.CreateSession()
		if err != nil {
			return nil, nil, fmt.Errorf("cassandra session: %w", err)
		}
		return cassandrasink.New(session, cfg.CassandraKeyspace, cfg.CassandraTable), session.Close, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres open: %w", err)
		}
		return postgressink.New(db, cfg.PostgresTable), func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown command_sink %q", cfg.CommandSink)
	}
}

func dialConsumer(ctx context.Context, cfg config.Config) (transport.Consumer, func(), error) {
	switch cfg.Transport {
	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		consumer, err := transport.NewRedisConsumer(ctx, client, cfg.RedisStream, "cdl-command", cfg.CommandSink, int64(cfg.ChunkCapacity))
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return consumer, func() { consumer.Close(); client.Close() }, nil

	case config.TransportGRPC:
		return nil, nil, fmt.Errorf("command-service: grpc transport requires a hosted Transport server for its consumer side, not yet wired into this binary")

	default:
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		consumer, err := transport.NewNATSConsumer(ctx, js, cfg.NATSStream+".insert", "cdl-command-"+cfg.CommandSink, cfg.ChunkCapacity)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return consumer, func() { consumer.Close(); nc.Close() }, nil
	}
}

func dialPublisherOnly(ctx context.Context, cfg config.Config) (transport.Publisher, func(), error) {
	switch cfg.Transport {
	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return transport.NewRedisPublisher(client), func() { client.Close() }, nil
	case config.TransportGRPC:
		conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, err
		}
		publisher, err := transport.NewGRPCPublisher(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return publisher, func() { publisher.Close(); conn.Close() }, nil
	default:
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return transport.NewNATSPublisher(js), func() { nc.Close() }, nil
	}
}
