// Package stub is a scripted, in-memory transport.Conn. It behaves like a
// small broker that loops publishes back to matching subscriptions.
package stub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrew-r-thomas/mqttest/transport"
)

type Conn struct {
	*transport.Emitter

	// PublishErr and SubscribeErr are returned as the ack of every call.
	PublishErr   error
	SubscribeErr error
	// AckDelay is how long Publish and Subscribe block before acking.
	AckDelay time.Duration
	// Loopback delivers published messages back to matching subscriptions.
	Loopback bool

	subs *transport.TopicTrie

	lock       sync.Mutex
	published  []transport.Message
	subscribed []string

	ends atomic.Int32
}

func NewConn() *Conn {
	return &Conn{
		Emitter: transport.NewLifecycleEmitter(),
		subs:    transport.NewTopicTrie(),
	}
}

func (c *Conn) ack(ctx context.Context) error {
	if c.AckDelay <= 0 {
		return nil
	}
	t := time.NewTimer(c.AckDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) Publish(ctx context.Context, topic string, payload []byte, cfg transport.ActionConfig) error {
	msg := transport.Message{Topic: topic, Payload: payload, QoS: cfg.QoS, Retain: cfg.Retain}
	c.lock.Lock()
	c.published = append(c.published, msg)
	c.lock.Unlock()

	if err := c.ack(ctx); err != nil {
		return err
	}
	if c.PublishErr != nil {
		return c.PublishErr
	}
	if c.Loopback {
		c.Deliver(msg)
	}
	return nil
}

func (c *Conn) Subscribe(ctx context.Context, filter string, cfg transport.ActionConfig) error {
	c.lock.Lock()
	c.subscribed = append(c.subscribed, filter)
	c.lock.Unlock()

	if err := c.ack(ctx); err != nil {
		return err
	}
	if c.SubscribeErr != nil {
		return c.SubscribeErr
	}
	c.subs.AddSubscription(filter, filter)
	return nil
}

// Deliver emits msg as an inbound message if any acknowledged subscription
// matches its topic. It reports whether the message was emitted.
func (c *Conn) Deliver(msg transport.Message) bool {
	if len(c.subs.FindMatches(msg.Topic)) == 0 {
		return false
	}
	c.Emit(transport.Event{Name: transport.EventMessage, Message: msg})
	return true
}

// Connected fires the connect event.
func (c *Conn) Connected() {
	c.Emit(transport.Event{Name: transport.EventConnect})
}

// Fail fires the error event.
func (c *Conn) Fail(err error) {
	c.Emit(transport.Event{Name: transport.EventError, Err: err})
}

func (c *Conn) End(force bool) error {
	c.ends.Add(1)
	return nil
}

func (c *Conn) Ends() int {
	return int(c.ends.Load())
}

func (c *Conn) Published() []transport.Message {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]transport.Message(nil), c.published...)
}

func (c *Conn) Subscribed() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string(nil), c.subscribed...)
}

// Dialer hands out conns built by New and remembers them. With AutoConnect
// each conn fires connect as soon as it is dialed.
type Dialer struct {
	New         func() *Conn
	AutoConnect bool
	Err         error

	lock  sync.Mutex
	conns []*Conn
	urls  []string
	opts  []transport.Options
}

func (d *Dialer) Dial(ctx context.Context, url string, opts transport.Options) (transport.Conn, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	c := NewConn()
	if d.New != nil {
		c = d.New()
	}

	d.lock.Lock()
	d.conns = append(d.conns, c)
	d.urls = append(d.urls, url)
	d.opts = append(d.opts, opts)
	d.lock.Unlock()

	if d.AutoConnect {
		c.Connected()
	}
	return c, nil
}

func (d *Dialer) Conns() []*Conn {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]*Conn(nil), d.conns...)
}

func (d *Dialer) URLs() []string {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *Dialer) Options() []transport.Options {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]transport.Options(nil), d.opts...)
}
