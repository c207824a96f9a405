package objectbuilder

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/commondatalayer/cdl/internal/resilience"
	"github.com/commondatalayer/cdl/internal/rpc"
	"github.com/google/uuid"
)

type pooledClient struct {
	conn    *grpc.ClientConn
	fetcher ObjectFetcher
}

// QueryPool dials and caches one gRPC connection per distinct
// QueryAddress a schema names, so repeated requests against the same
// schema reuse a warm connection instead of redialing per row. Each
// cached fetcher is wrapped in its own circuit breaker, so one schema's
// Query Service being down doesn't burn retries against it on every
// fetchAll call while other schemas keep serving normally.
type QueryPool struct {
	mu      sync.Mutex
	clients map[string]pooledClient
}

// NewQueryPool creates an empty pool.
func NewQueryPool() *QueryPool {
	return &QueryPool{clients: make(map[string]pooledClient)}
}

// Get returns the ObjectFetcher for addr, dialing it on first use.
func (p *QueryPool) Get(addr string) (ObjectFetcher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[addr]; ok {
		return c.fetcher, nil
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("objectbuilder: dial query service %s: %w", addr, err)
	}
	fetcher := &breakerFetcher{
		inner:   rpc.NewQueryServiceClient(conn),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
	p.clients[addr] = pooledClient{conn: conn, fetcher: fetcher}
	return fetcher, nil
}

// breakerFetcher wraps an ObjectFetcher's outbound RPC in a circuit
// breaker, per spec.md §9's backpressure requirements.
type breakerFetcher struct {
	inner   ObjectFetcher
	breaker *resilience.Breaker
}

func (f *breakerFetcher) QueryMultiple(ctx context.Context, objectIDs []uuid.UUID) (map[uuid.UUID][]byte, error) {
	var result map[uuid.UUID][]byte
	err := f.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = f.inner.QueryMultiple(ctx, objectIDs)
		return callErr
	})
	return result, err
}

// Close closes every pooled connection.
func (p *QueryPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		c.conn.Close()
	}
}
