package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/navcom/groupctl/internal/control"
	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/model"
)

const maxParallelPublish = 8

// Publisher signs control templates with the operator key and publishes them.
type Publisher struct {
	sk       string
	pk       string
	pool     *Pool
	defaults []string
	timeout  time.Duration
	log      *zap.Logger
	now      func() int64
}

// NewPublisher derives the public key from sk. defaults are used when a
// publish names no relays.
func NewPublisher(sk string, pool *Pool, defaults []string, log *zap.Logger) (*Publisher, error) {
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("%w: signing key: %v", errs.ErrValidation, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		sk:       sk,
		pk:       pk,
		pool:     pool,
		defaults: defaults,
		timeout:  10 * time.Second,
		log:      log,
		now:      func() int64 { return time.Now().Unix() },
	}, nil
}

// PublicKey returns the signer pubkey.
func (p *Publisher) PublicKey() string { return p.pk }

// Publish signs t and sends it to every relay. At least one relay must accept it.
func (p *Publisher) Publish(ctx context.Context, t control.Template, relays []string) (model.Receipt, error) {
	if len(relays) == 0 {
		relays = p.defaults
	}
	if len(relays) == 0 {
		return model.Receipt{}, fmt.Errorf("%w: no relays configured", errs.ErrPublishFailed)
	}

	ev := t.Event(p.now())
	ev.PubKey = p.pk
	if err := ev.Sign(p.sk); err != nil {
		return model.Receipt{}, fmt.Errorf("sign event: %w", err)
	}

	var (
		mu       sync.Mutex
		acked    []string
		failures []model.RelayFailure
		g        errgroup.Group
	)
	g.SetLimit(maxParallelPublish)
	for _, url := range relays {
		url := url
		g.Go(func() error {
			err := p.publishOne(ctx, url, ev)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, model.RelayFailure{Relay: url, Error: err.Error()})
				return nil
			}
			acked = append(acked, url)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(acked)
	sort.Slice(failures, func(i, j int) bool { return failures[i].Relay < failures[j].Relay })
	rc := model.Receipt{
		EventID:     ev.ID,
		AckedRelays: acked,
		Relays:      append([]string(nil), relays...),
		Failures:    failures,
	}
	if len(acked) == 0 {
		return rc, fmt.Errorf("%w: no relay accepted event %s", errs.ErrPublishFailed, ev.ID)
	}
	p.log.Debug("event published",
		zap.String("event_id", ev.ID),
		zap.Int("kind", ev.Kind),
		zap.Int("acked", len(acked)),
		zap.Int("failed", len(failures)))
	return rc, nil
}

func (p *Publisher) publishOne(ctx context.Context, url string, ev nostr.Event) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	c, err := p.pool.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := c.Publish(ctx, ev); err != nil {
		p.pool.Drop(url)
		return err
	}
	return nil
}
