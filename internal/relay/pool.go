// Package relay connects the control plane to nostr relays.
package relay

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync"
	"go.uber.org/zap"
)

// Conn is one relay connection.
type Conn interface {
	Publish(ctx context.Context, ev nostr.Event) error
	// Stream delivers events matching f until stop is called or ctx ends.
	Stream(ctx context.Context, f nostr.Filter) (events <-chan *nostr.Event, stop func(), err error)
	Close() error
}

// Dialer opens a relay connection.
type Dialer func(ctx context.Context, url string) (Conn, error)

type nostrConn struct{ r *nostr.Relay }

func (c nostrConn) Publish(ctx context.Context, ev nostr.Event) error { return c.r.Publish(ctx, ev) }

func (c nostrConn) Stream(ctx context.Context, f nostr.Filter) (<-chan *nostr.Event, func(), error) {
	sub, err := c.r.Subscribe(ctx, nostr.Filters{f})
	if err != nil {
		return nil, nil, err
	}
	return sub.Events, sub.Unsub, nil
}

func (c nostrConn) Close() error { return c.r.Close() }

// DialNostr connects with go-nostr.
func DialNostr(ctx context.Context, url string) (Conn, error) {
	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	return nostrConn{r: r}, nil
}

// Pool keeps one connection per relay URL and redials dropped ones.
type Pool struct {
	dial  Dialer
	conns *xsync.MapOf[string, Conn]
	mu    sync.Mutex // serializes dials
	log   *zap.Logger
}

// NewPool constructs a pool. A nil dial uses DialNostr.
func NewPool(dial Dialer, log *zap.Logger) *Pool {
	if dial == nil {
		dial = DialNostr
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{dial: dial, conns: xsync.NewMapOf[Conn](), log: log}
}

// Get returns the connection for url, dialing it if needed.
func (p *Pool) Get(ctx context.Context, url string) (Conn, error) {
	url = nostr.NormalizeURL(url)
	if c, ok := p.conns.Load(url); ok {
		return c, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns.Load(url); ok {
		return c, nil
	}
	c, err := p.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	p.conns.Store(url, c)
	p.log.Debug("relay connected", zap.String("relay", url))
	return c, nil
}

// Drop closes and forgets the connection for url.
func (p *Pool) Drop(url string) {
	url = nostr.NormalizeURL(url)
	if c, ok := p.conns.LoadAndDelete(url); ok {
		_ = c.Close()
	}
}

// Close closes every connection.
func (p *Pool) Close() {
	p.conns.Range(func(url string, c Conn) bool {
		_ = c.Close()
		p.conns.Delete(url)
		return true
	})
}
