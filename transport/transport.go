// Package transport is the boundary between the test engine and a live MQTT
// connection. The engine only ever talks to a Conn; the paho dialer in this
// package is the production implementation.
package transport

import (
	"context"
	"time"
)

// lifecycle and traffic events a Conn emits
const (
	EventConnect = "connect"
	EventError   = "error"
	EventClose   = "close"
	EventMessage = "message"
)

type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Event is what a Conn hands to listeners. Message is only set for
// EventMessage, Err only for EventError.
type Event struct {
	Name    string
	Message Message
	Err     error
}

// Options are the connection parameters resolved at connect time.
type Options struct {
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	KeepAlive      uint16        `yaml:"keep_alive"`
	KeepSession    bool          `yaml:"keep_session"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Insecure       bool          `yaml:"insecure"`
}

// ActionConfig is passed through to publish and subscribe.
type ActionConfig struct {
	QoS               byte `yaml:"qos"`
	Retain            bool `yaml:"retain"`
	NoLocal           bool `yaml:"no_local"`
	RetainAsPublished bool `yaml:"retain_as_published"`
	RetainHandling    byte `yaml:"retain_handling"`
}

// Conn is a single broker connection. Publish and Subscribe block until the
// broker acknowledges (or the packet is written, for QoS 0).
type Conn interface {
	Publish(ctx context.Context, topic string, payload []byte, cfg ActionConfig) error
	Subscribe(ctx context.Context, filter string, cfg ActionConfig) error
	On(event string, fn func(Event)) (off func())
	Once(event string, fn func(Event)) (off func())
	End(force bool) error
}

type Dialer interface {
	Dial(ctx context.Context, url string, opts Options) (Conn, error)
}

type DialerFunc func(ctx context.Context, url string, opts Options) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string, opts Options) (Conn, error) {
	return f(ctx, url, opts)
}
