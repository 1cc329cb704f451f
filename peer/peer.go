// Package peer generates background traffic while a suite runs: each
// Publisher holds its own connection and publishes on a fixed interval.
package peer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andrew-r-thomas/mqttest"
	"github.com/andrew-r-thomas/mqttest/transport"
)

const defaultEvery = time.Second

type Publisher struct {
	ID      string
	URL     string
	Options transport.Options
	Topic   string
	Every   time.Duration
	Payload []byte
	Config  transport.ActionConfig
	// Stamp prefixes every payload with a fresh 36 byte uuid.
	Stamp bool

	sent atomic.Int64
}

// Sent is the number of acknowledged publishes so far.
func (p *Publisher) Sent() int64 {
	return p.sent.Load()
}

func (p *Publisher) payload() []byte {
	if !p.Stamp {
		return p.Payload
	}
	out := make([]byte, 0, 36+len(p.Payload))
	out = append(out, uuid.NewString()...)
	return append(out, p.Payload...)
}

// Run connects and publishes until ctx is done. It returns nil on a clean
// stop and the first connect or publish error otherwise.
func (p *Publisher) Run(ctx context.Context, cfg mqttest.Config) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	log := zerolog.Ctx(ctx).With().Str("peer", p.ID).Str("topic", p.Topic).Logger()

	c, err := mqttest.Connect(ctx, cfg, mqttest.Definition{
		URL:     mqttest.Value(p.URL),
		Options: mqttest.Value(p.Options),
	})
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.WaitEvent(ctx, transport.EventConnect); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	every := p.Every
	if every <= 0 {
		every = defaultEvery
	}
	log.Debug().Dur("every", every).Msg("peer connected")

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Int64("sent", p.Sent()).Msg("peer stopped")
			return nil
		case <-ticker.C:
			err := c.Conn().Publish(ctx, p.Topic, p.payload(), p.Config)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error().Err(err).Msg("peer publish failed")
				return err
			}
			p.sent.Add(1)
		}
	}
}

// Start runs every publisher until stop is called. stop returns the first
// publisher error.
func Start(ctx context.Context, cfg mqttest.Config, pubs []*Publisher) (stop func() error) {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pubs {
		p := p
		g.Go(func() error { return p.Run(gctx, cfg) })
	}
	return func() error {
		cancel()
		return g.Wait()
	}
}
