package s3

import (
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// clientKey identifies a client by upstream endpoint and credential identity.
// Secrets are part of the key so a rotated secret never reuses a stale client.
type clientKey struct {
	endpoint  string
	accessKey string
	secretKey string
}

// ClientPool caches configured S3 clients per endpoint and credentials.
// Clients are safe for concurrent use, so a cached client is shared rather
// than checked out.
type ClientPool struct {
	mu      sync.Mutex
	clients map[clientKey]*pooledClient
	factory func(clientKey) *s3.Client
	maxSize int

	stats PoolStats
}

type pooledClient struct {
	client   *s3.Client
	lastUsed time.Time
}

// PoolStats tracks client pool statistics
type PoolStats struct {
	Size        int       `json:"size"`
	MaxSize     int       `json:"max_size"`
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Created     int64     `json:"created"`
	Evicted     int64     `json:"evicted"`
	LastCreated time.Time `json:"last_created"`
}

// NewClientPool creates a pool holding at most maxSize clients.
func NewClientPool(maxSize int, factory func(clientKey) *s3.Client) *ClientPool {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &ClientPool{
		clients: make(map[clientKey]*pooledClient, maxSize),
		factory: factory,
		maxSize: maxSize,
		stats:   PoolStats{MaxSize: maxSize},
	}
}

// Get returns the cached client for key, creating one on a miss.
func (p *ClientPool) Get(key clientKey) *s3.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if pc, ok := p.clients[key]; ok {
		pc.lastUsed = now
		p.stats.Hits++
		return pc.client
	}

	p.stats.Misses++
	if len(p.clients) >= p.maxSize {
		p.evictOldest()
	}

	client := p.factory(key)
	p.clients[key] = &pooledClient{client: client, lastUsed: now}
	p.stats.Created++
	p.stats.LastCreated = now
	return client
}

// Stats returns current pool statistics
func (p *ClientPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.Size = len(p.clients)
	return stats
}

// Close drops every cached client.
func (p *ClientPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clear(p.clients)
	return nil
}

func (p *ClientPool) evictOldest() {
	var (
		oldest    clientKey
		oldestAt  time.Time
		haveFirst bool
	)
	for k, pc := range p.clients {
		if !haveFirst || pc.lastUsed.Before(oldestAt) {
			oldest, oldestAt, haveFirst = k, pc.lastUsed, true
		}
	}
	if haveFirst {
		delete(p.clients, oldest)
		p.stats.Evicted++
	}
}
