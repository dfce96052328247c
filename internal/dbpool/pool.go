// Package dbpool implements the sharded database client pool: a bounded
// aggregate of outstanding operations per client, handed out in blocks of
// per_client_max calls, new clients created lazily on block boundaries.
package dbpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/wumacoder/mongobar/internal/driver"
)

// Pool hands out driver.Client handles sharded by call count. One client
// approximates one internal connection pool; sharding by call count avoids a
// single pool becoming a global bottleneck when many workers share one
// client.
type Pool struct {
	mu            sync.Mutex
	uri           string
	perClientMax  uint64
	factory       driver.Factory
	clients       []driver.Client
	getIndex      uint64
}

// New returns a Pool that will create clients via factory, each configured
// with max_pool_size ≈ perClientMax+1 and min_pool_size ≈ perClientMax/100+1.
func New(uri string, perClientMax uint64, factory driver.Factory) *Pool {
	if perClientMax == 0 {
		perClientMax = 1
	}
	return &Pool{uri: uri, perClientMax: perClientMax, factory: factory}
}

// Get hands out a shared client reference. The first perClientMax calls
// return client #0; the next perClientMax calls return client #1; and so on.
func (p *Pool) Get(ctx context.Context) (driver.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	blockIndex := p.getIndex / p.perClientMax
	for uint64(len(p.clients)) <= blockIndex {
		c, err := p.factory(ctx, driver.ClientOptions{
			URI:         p.uri,
			MaxPoolSize: p.perClientMax + 1,
			MinPoolSize: p.perClientMax/100 + 1,
		})
		if err != nil {
			return nil, fmt.Errorf("dbpool: create client %d: %w", len(p.clients), err)
		}
		p.clients = append(p.clients, c)
	}

	p.getIndex++
	return p.clients[blockIndex], nil
}

// ClientCount returns how many distinct clients have been created so far.
func (p *Pool) ClientCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Shutdown drains and closes every client created by the pool.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, c := range p.clients {
		if err := c.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
