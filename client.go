package mqttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andrew-r-thomas/mqttest/transport"
)

// Config is shared by every run of a suite.
type Config struct {
	// Dialer opens connections, transport.PahoDialer when nil.
	Dialer transport.Dialer
	// ConnectEvent is awaited before any action, "connect" when empty.
	ConnectEvent string
	// Timeout is used by actions that set none, DefaultTimeout when zero.
	Timeout time.Duration
}

func (c Config) dialer() transport.Dialer {
	if c.Dialer == nil {
		return transport.PahoDialer{}
	}
	return c.Dialer
}

func (c Config) connectEvent() string {
	if c.ConnectEvent == "" {
		return transport.EventConnect
	}
	return c.ConnectEvent
}

// Client owns one connection for the length of one run.
type Client struct {
	conn transport.Conn
	def  Definition

	closeOnce sync.Once
	closeErr  error
}

// Connect resolves the definition's URL and Options and dials. The returned
// Client's Definition has both fields replaced by their resolved values.
func Connect(ctx context.Context, cfg Config, def Definition) (*Client, error) {
	url, err := def.URL.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving url: %w", ErrConnect, err)
	}
	if url == "" {
		return nil, fmt.Errorf("%w: no broker url", ErrConnect)
	}
	opts, err := def.Options.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving options: %w", ErrConnect, err)
	}

	zerolog.Ctx(ctx).Debug().Str("url", url).Msg("connecting")
	conn, err := cfg.dialer().Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	resolved := def
	resolved.URL = Value(url)
	resolved.Options = Value(opts)
	return &Client{conn: conn, def: resolved}, nil
}

func (c *Client) Conn() transport.Conn {
	return c.conn
}

func (c *Client) Definition() Definition {
	return c.def
}

// WaitEvent blocks until the named event fires or the connection reports
// an error, whichever happens first.
func (c *Client) WaitEvent(ctx context.Context, name string) (transport.Event, error) {
	got := make(chan transport.Event, 2)
	// the error listener goes first so an error that already fired wins
	if name != transport.EventError {
		offErr := c.conn.Once(transport.EventError, func(ev transport.Event) { got <- ev })
		defer offErr()
	}
	off := c.conn.Once(name, func(ev transport.Event) { got <- ev })
	defer off()

	select {
	case ev := <-got:
		if ev.Name == transport.EventError && name != transport.EventError {
			cause := ev.Err
			if cause == nil {
				cause = errors.New("connection reported an error")
			}
			return ev, fmt.Errorf("%w: waiting for %q: %w", ErrConnect, name, cause)
		}
		return ev, nil
	case <-ctx.Done():
		return transport.Event{}, ctx.Err()
	}
}

// Close force-closes the connection. Only the first call reaches the
// transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.End(true)
	})
	return c.closeErr
}
