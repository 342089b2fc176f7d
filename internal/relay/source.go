package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync"
	"go.uber.org/zap"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/transport"
)

// Source streams events from relays, delivering each event id once.
type Source struct {
	pool *Pool
	log  *zap.Logger
}

// NewSource constructs an event source over pool.
func NewSource(pool *Pool, log *zap.Logger) *Source {
	if log == nil {
		log = zap.NewNop()
	}
	return &Source{pool: pool, log: log}
}

type subscription struct {
	cancel context.CancelFunc
	stops  []func()
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		for _, stop := range s.stops {
			stop()
		}
		s.wg.Wait()
	})
}

// Subscribe opens f on every relay. It fails only when no relay accepts the subscription.
func (s *Source) Subscribe(ctx context.Context, f nostr.Filter, relays []string, onEvent func(model.Event)) (transport.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel}
	seen := xsync.NewMapOf[struct{}]()

	var lastErr error
	for _, url := range relays {
		c, err := s.pool.Get(ctx, url)
		if err == nil {
			var events <-chan *nostr.Event
			var stop func()
			events, stop, err = c.Stream(ctx, f)
			if err == nil {
				sub.stops = append(sub.stops, stop)
				sub.wg.Add(1)
				go s.drain(ctx, &sub.wg, url, events, seen, onEvent)
				continue
			}
		}
		lastErr = err
		s.log.Warn("relay subscription failed", zap.String("relay", url), zap.Error(err))
	}
	if len(sub.stops) == 0 {
		cancel()
		if lastErr == nil {
			lastErr = fmt.Errorf("no relays")
		}
		return nil, fmt.Errorf("%w: subscribe: %v", errs.ErrDispatchFailed, lastErr)
	}
	return sub, nil
}

func (s *Source) drain(ctx context.Context, wg *sync.WaitGroup, url string, events <-chan *nostr.Event, seen *xsync.MapOf[string, struct{}], onEvent func(model.Event)) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.log.Debug("relay stream closed", zap.String("relay", url))
				return
			}
			if ev == nil {
				continue
			}
			if _, dup := seen.LoadOrStore(ev.ID, struct{}{}); dup {
				continue
			}
			onEvent(*ev)
		}
	}
}
