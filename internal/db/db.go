package db

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/oxidb"
)

// Conn is the slice of the oxidb client the repositories use.
type Conn interface {
	Insert(ctx context.Context, collection string, doc map[string]any) (map[string]any, error)
	Find(ctx context.Context, collection string, query map[string]any, opts *oxidb.FindOptions) ([]map[string]any, error)
	FindOne(ctx context.Context, collection string, query map[string]any) (map[string]any, error)
	UpdateOne(ctx context.Context, collection string, query, update map[string]any) (map[string]any, error)
	DeleteOne(ctx context.Context, collection string, query map[string]any) (map[string]any, error)
	Delete(ctx context.Context, collection string, query map[string]any) (map[string]any, error)
	Count(ctx context.Context, collection string, query map[string]any) (int, error)

	CreateIndex(ctx context.Context, collection, field string) error
	CreateUniqueIndex(ctx context.Context, collection, field string) error
	CreateCompositeIndex(ctx context.Context, collection string, fields []string) error
	CreateTextIndex(ctx context.Context, collection string, fields []string) error
	TextSearch(ctx context.Context, collection, query string, limit int) ([]map[string]any, error)
	Aggregate(ctx context.Context, collection string, pipeline []map[string]any) ([]map[string]any, error)
	ListIndexes(ctx context.Context, collection string) ([]map[string]any, error)
	Compact(ctx context.Context, collection string) (map[string]any, error)

	CreateBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) (map[string]any, error)
	GetObject(ctx context.Context, bucket, key string) ([]byte, map[string]any, error)
	DeleteObject(ctx context.Context, bucket, key string) error
}

// Source hands out connections.
type Source interface {
	Get() Conn
}

// Options configures a Pool.
type Options struct {
	Host        string
	Port        int
	Size        int
	DialTimeout time.Duration
	// Keepalive is the ping interval; zero disables the pinger.
	Keepalive time.Duration
}

// Pool is a round-robin connection pool for OxiDB with auto-reconnect.
type Pool struct {
	opts    Options
	logger  *zap.Logger
	clients []*oxidb.Client
	mu      []sync.Mutex
	idx     uint64
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewPool opens opts.Size connections.
func NewPool(ctx context.Context, opts Options, logger *zap.Logger) (*Pool, error) {
	if opts.Size <= 0 {
		opts.Size = 1
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	p := &Pool{
		opts:    opts,
		logger:  logger.Named("db"),
		clients: make([]*oxidb.Client, opts.Size),
		mu:      make([]sync.Mutex, opts.Size),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for i := 0; i < opts.Size; i++ {
		c, err := oxidb.Connect(ctx, opts.Host, opts.Port, opts.DialTimeout)
		if err != nil {
			close(p.done)
			p.Close()
			return nil, fmt.Errorf("pool: connect client %d: %w", i, err)
		}
		p.clients[i] = c
	}
	if opts.Keepalive > 0 {
		go p.keepalive()
	} else {
		close(p.done)
	}
	return p, nil
}

// Get returns the next client in round-robin order.
func (p *Pool) Get() Conn {
	n := atomic.AddUint64(&p.idx, 1)
	i := int(n % uint64(len(p.clients)))
	p.mu[i].Lock()
	c := p.clients[i]
	p.mu[i].Unlock()
	if !c.Healthy() {
		p.reconnect(i)
		p.mu[i].Lock()
		c = p.clients[i]
		p.mu[i].Unlock()
	}
	return c
}

// Ping checks every connection once.
func (p *Pool) Ping(ctx context.Context) error {
	for i := range p.clients {
		p.mu[i].Lock()
		c := p.clients[i]
		p.mu[i].Unlock()
		if _, err := c.Ping(ctx); err != nil {
			return fmt.Errorf("pool: ping client %d: %w", i, err)
		}
	}
	return nil
}

func (p *Pool) reconnect(i int) {
	p.mu[i].Lock()
	defer p.mu[i].Unlock()
	if p.clients[i] != nil && p.clients[i].Healthy() {
		return
	}
	if p.clients[i] != nil {
		_ = p.clients[i].Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.DialTimeout)
	defer cancel()
	c, err := oxidb.Connect(ctx, p.opts.Host, p.opts.Port, p.opts.DialTimeout)
	if err != nil {
		p.logger.Warn("reconnect failed", zap.Int("client", i), zap.Error(err))
		return
	}
	p.clients[i] = c
	p.logger.Info("reconnected", zap.Int("client", i))
}

func (p *Pool) keepalive() {
	defer close(p.done)
	ticker := time.NewTicker(p.opts.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			for i := range p.clients {
				p.mu[i].Lock()
				c := p.clients[i]
				p.mu[i].Unlock()
				ctx, cancel := context.WithTimeout(context.Background(), p.opts.DialTimeout)
				_, err := c.Ping(ctx)
				cancel()
				if err != nil {
					p.logger.Warn("ping failed, reconnecting", zap.Int("client", i), zap.Error(err))
					p.reconnect(i)
				}
			}
		}
	}
}

// Close stops the pinger and closes all connections.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.stop)
		<-p.done
		for i := range p.clients {
			p.mu[i].Lock()
			if p.clients[i] != nil {
				_ = p.clients[i].Close()
			}
			p.mu[i].Unlock()
		}
	})
}
