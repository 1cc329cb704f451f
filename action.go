package mqttest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/andrew-r-thomas/mqttest/transport"
)

type actionFunc func(ctx context.Context, c *Client, a action) (Message, error)

var protocol = map[Verb]actionFunc{
	VerbPublish:   publish,
	VerbSubscribe: subscribe,
}

// execute runs one leaf definition on an established connection.
func execute(ctx context.Context, c *Client, cfg Config, def Definition) (Message, error) {
	fn, ok := protocol[def.Verb]
	if !ok {
		return Message{}, &ActionError{Kind: ErrInvalidVerb, Verb: def.Verb}
	}

	a, err := def.resolve(ctx, cfg.Timeout)
	if err != nil {
		return Message{}, &ActionError{Kind: ErrInvalidDefinition, Verb: def.Verb, Err: err}
	}
	if a.packet.Topic == "" {
		return Message{}, &ActionError{
			Kind: ErrInvalidDefinition,
			Verb: a.verb,
			Err:  errors.New("packet has no topic"),
		}
	}

	log := zerolog.Ctx(ctx).With().
		Str("verb", string(a.verb)).
		Str("topic", a.packet.Topic).
		Logger()
	ctx = log.WithContext(ctx)

	if a.event != "" {
		if _, err := c.WaitEvent(ctx, a.event); err != nil {
			return Message{}, err
		}
	}

	log.Debug().Dur("timeout", a.timeout).Msg("action started")
	msg, err := fn(ctx, c, a)
	if err != nil {
		log.Debug().Err(err).Msg("action failed")
		return Message{}, err
	}
	log.Debug().Msg("action passed")
	return msg, nil
}

// publish sends the packet, waits out the settle delay and then asserts on
// what was sent.
func publish(ctx context.Context, c *Client, a action) (Message, error) {
	msg := Message{
		Topic:   a.packet.Topic,
		Payload: a.packet.Payload,
		QoS:     a.config.QoS,
		Retain:  a.config.Retain,
	}

	err := c.conn.Publish(ctx, a.packet.Topic, a.packet.Payload, a.config)
	if err != nil {
		return Message{}, a.fail(ErrTransport, err)
	}

	t := time.NewTimer(a.timeout)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}

	if err := a.check(msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// subscribe subscribes and races the first matching message against the
// timeout. The listener goes up before the subscribe call so a message
// delivered together with the ack is not missed.
func subscribe(ctx context.Context, c *Client, a action) (Message, error) {
	var settled atomic.Bool
	got := make(chan Message, 1)
	off := c.conn.On(transport.EventMessage, func(ev transport.Event) {
		if !transport.MatchTopic(a.packet.Topic, ev.Message.Topic) {
			return
		}
		if settled.CompareAndSwap(false, true) {
			got <- ev.Message
		}
	})
	defer off()

	if err := c.conn.Subscribe(ctx, a.packet.Topic, a.config); err != nil {
		return Message{}, a.fail(ErrTransport, err)
	}

	t := time.NewTimer(a.timeout)
	defer t.Stop()

	var msg Message
	select {
	case msg = <-got:
	case <-t.C:
		if settled.CompareAndSwap(false, true) {
			return Message{}, &ActionError{
				Kind:    ErrTimeout,
				Verb:    a.verb,
				Topic:   a.packet.Topic,
				Timeout: a.timeout,
			}
		}
		// the message won the latch just before the timer fired
		msg = <-got
	case <-ctx.Done():
		settled.Store(true)
		return Message{}, ctx.Err()
	}

	if err := a.check(msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (a action) fail(kind, err error) *ActionError {
	return &ActionError{Kind: kind, Verb: a.verb, Topic: a.packet.Topic, Err: err}
}

// check runs the Expect callback; no callback is a pass.
func (a action) check(msg Message) (err error) {
	if a.expect == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = a.fail(ErrAssertion, fmt.Errorf("expect panicked: %v", r))
		}
	}()
	if e := a.expect(msg); e != nil {
		return a.fail(ErrAssertion, e)
	}
	return nil
}
