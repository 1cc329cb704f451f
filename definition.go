// Package mqttest runs declarative end-to-end tests against an MQTT broker.
//
// A Definition describes one connection and either a single publish or
// subscribe action or a set of steps that run concurrently on that
// connection. Run connects, waits for the connection to come up, executes
// the action or steps, checks each outcome against the Expect callback and
// always closes the connection before returning.
package mqttest

import (
	"context"
	"fmt"
	"time"

	"github.com/andrew-r-thomas/mqttest/transport"
)

// DefaultTimeout applies when neither the definition nor the Config sets one.
const DefaultTimeout = 100 * time.Millisecond

type Verb string

const (
	VerbPublish   Verb = "publish"
	VerbSubscribe Verb = "subscribe"
)

type Message = transport.Message

// Packet is what an action sends, or for subscribe, the topic filter it
// listens on. Payload is unused by subscribe.
type Packet struct {
	Topic   string
	Payload []byte
}

// ExpectFunc checks an observed message. Returning an error or panicking
// fails the action.
type ExpectFunc func(Message) error

type Definition struct {
	Name string

	URL     Lazy[string]
	Options Lazy[transport.Options]

	Verb    Verb
	Event   Lazy[string]
	Packet  Lazy[Packet]
	Config  *transport.ActionConfig
	Timeout time.Duration

	Expect ExpectFunc
	Error  func(error)

	// Steps, when non-empty, replaces Verb: every step is merged over this
	// definition and all of them run concurrently.
	Steps []Lazy[Definition]
}

// Merge returns d with every field that over sets replaced by over's
// value. The result never carries steps.
func (d Definition) Merge(over Definition) Definition {
	out := d
	out.Steps = nil

	if over.Name != "" {
		out.Name = over.Name
	}
	out.URL = over.URL.or(d.URL)
	out.Options = over.Options.or(d.Options)
	if over.Verb != "" {
		out.Verb = over.Verb
	}
	out.Event = over.Event.or(d.Event)
	out.Packet = over.Packet.or(d.Packet)
	if over.Config != nil {
		out.Config = over.Config
	}
	if over.Timeout != 0 {
		out.Timeout = over.Timeout
	}
	if over.Expect != nil {
		out.Expect = over.Expect
	}
	if over.Error != nil {
		out.Error = over.Error
	}
	return out
}

// action is a leaf definition with every lazy field resolved.
type action struct {
	name    string
	verb    Verb
	event   string
	packet  Packet
	config  transport.ActionConfig
	timeout time.Duration
	expect  ExpectFunc
}

func (d Definition) resolve(ctx context.Context, defTimeout time.Duration) (action, error) {
	event, err := d.Event.Resolve(ctx)
	if err != nil {
		return action{}, fmt.Errorf("resolving event: %w", err)
	}
	packet, err := d.Packet.Resolve(ctx)
	if err != nil {
		return action{}, fmt.Errorf("resolving packet: %w", err)
	}

	a := action{
		name:    d.Name,
		verb:    d.Verb,
		event:   event,
		packet:  packet,
		timeout: d.Timeout,
		expect:  d.Expect,
	}
	if d.Config != nil {
		a.config = *d.Config
	}
	if a.timeout <= 0 {
		a.timeout = defTimeout
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	return a, nil
}
