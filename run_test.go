package mqttest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew-r-thomas/mqttest/internal/stub"
	"github.com/andrew-r-thomas/mqttest/transport"
)

func stubConfig(setup func(*stub.Conn)) (Config, *stub.Dialer) {
	d := &stub.Dialer{
		AutoConnect: true,
		New: func() *stub.Conn {
			c := stub.NewConn()
			if setup != nil {
				setup(c)
			}
			return c
		},
	}
	return Config{Dialer: d}, d
}

func TestRunPublishScenario(t *testing.T) {
	cfg, d := stubConfig(nil)

	res, err := Run(context.Background(), cfg, Definition{
		URL:    Value("tcp://broker:1883"),
		Verb:   VerbPublish,
		Packet: Value(Packet{Topic: "t", Payload: []byte("hi")}),
		Expect: func(m Message) error {
			if string(m.Payload) != "hi" {
				return fmt.Errorf("payload %q", m.Payload)
			}
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "t", res.Message.Topic)
	assert.Equal(t, "hi", string(res.Message.Payload))
	assert.Nil(t, res.Steps)

	require.Len(t, d.Conns(), 1)
	assert.Equal(t, 1, d.Conns()[0].Ends())
}

func TestRunSubscribeTimeoutScenario(t *testing.T) {
	cfg, _ := stubConfig(nil)

	errs := make(chan error, 1)
	start := time.Now()
	_, err := Run(context.Background(), cfg, Definition{
		URL:     Value("tcp://broker:1883"),
		Verb:    VerbSubscribe,
		Packet:  Value(Packet{Topic: "t"}),
		Timeout: 50 * time.Millisecond,
		Expect: func(m Message) error {
			if string(m.Payload) != "x" {
				return errors.New("not x")
			}
			return nil
		},
		Error: func(err error) { errs <- err },
	})
	assert.ErrorIs(t, err, ErrTimeout)

	select {
	case cbErr := <-errs:
		assert.ErrorIs(t, cbErr, ErrTimeout)
		assert.InDelta(t, 50, time.Since(start).Milliseconds(), 150)
	default:
		t.Fatal("error callback was not called")
	}
}

func TestRunClosesConnectionExactlyOnce(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*stub.Conn)
		def   Definition
		kind  error
	}{
		{
			name: "success",
			def:  Definition{Verb: VerbPublish, Packet: Value(Packet{Topic: "t"})},
		},
		{
			name:  "transport error",
			setup: func(c *stub.Conn) { c.PublishErr = errors.New("nack") },
			def:   Definition{Verb: VerbPublish, Packet: Value(Packet{Topic: "t"})},
			kind:  ErrTransport,
		},
		{
			name: "timeout error",
			def:  Definition{Verb: VerbSubscribe, Packet: Value(Packet{Topic: "t"}), Timeout: 10 * time.Millisecond},
			kind: ErrTimeout,
		},
		{
			name: "assertion error",
			def: Definition{
				Verb:   VerbPublish,
				Packet: Value(Packet{Topic: "t"}),
				Expect: func(Message) error { return errors.New("nope") },
			},
			kind: ErrAssertion,
		},
		{
			name:  "connect error",
			setup: func(c *stub.Conn) { c.Fail(errors.New("connection refused")) },
			def:   Definition{Verb: VerbPublish, Packet: Value(Packet{Topic: "t"})},
			kind:  ErrConnect,
		},
		{
			name: "invalid verb",
			def:  Definition{Verb: "rotate", Packet: Value(Packet{Topic: "t"})},
			kind: ErrInvalidVerb,
		},
		{
			name: "step failure",
			def: Definition{
				Packet: Value(Packet{Topic: "t"}),
				Steps: []Lazy[Definition]{
					Value(Definition{Verb: VerbPublish}),
					Value(Definition{Verb: "rotate"}),
				},
			},
			kind: ErrInvalidVerb,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, d := stubConfig(tt.setup)
			tt.def.URL = Value("tcp://broker:1883")
			tt.def.Timeout = max(tt.def.Timeout, time.Millisecond)

			_, err := Run(context.Background(), cfg, tt.def)
			if tt.kind == nil {
				require.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.kind)
			}
			require.Len(t, d.Conns(), 1)
			assert.Equal(t, 1, d.Conns()[0].Ends())
		})
	}
}

func TestRunCallsErrorAfterClose(t *testing.T) {
	cfg, d := stubConfig(func(c *stub.Conn) { c.PublishErr = errors.New("nack") })

	endsAtCallback := -1
	_, err := Run(context.Background(), cfg, Definition{
		URL:    Value("tcp://broker:1883"),
		Verb:   VerbPublish,
		Packet: Value(Packet{Topic: "t"}),
		Error: func(error) {
			endsAtCallback = d.Conns()[0].Ends()
		},
	})
	require.Error(t, err)
	assert.Equal(t, 1, endsAtCallback)
}

func TestRunDialError(t *testing.T) {
	refused := errors.New("dial tcp: connection refused")
	d := &stub.Dialer{Err: refused}

	var got error
	_, err := Run(context.Background(), Config{Dialer: d}, Definition{
		URL:    Value("tcp://nowhere:1883"),
		Verb:   VerbPublish,
		Packet: Value(Packet{Topic: "t"}),
		Error:  func(err error) { got = err },
	})
	assert.ErrorIs(t, err, ErrConnect)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, err, got)
	assert.Equal(t, "connect error", ErrorKind(err))
}

func TestRunResolvesConnectionFieldsLazily(t *testing.T) {
	cfg, d := stubConfig(nil)

	host := "first"
	def := Definition{
		URL: Func(func() string { return "tcp://" + host + ":1883" }),
		Options: Func(func() transport.Options {
			return transport.Options{ClientID: "client-" + host}
		}),
		Verb:    VerbPublish,
		Packet:  Value(Packet{Topic: "t"}),
		Timeout: time.Millisecond,
	}

	_, err := Run(context.Background(), cfg, def)
	require.NoError(t, err)
	host = "second"
	_, err = Run(context.Background(), cfg, def)
	require.NoError(t, err)

	assert.Equal(t, []string{"tcp://first:1883", "tcp://second:1883"}, d.URLs())
	assert.Equal(t, "client-second", d.Options()[1].ClientID)
}

func TestRunWaitsForConfiguredConnectEvent(t *testing.T) {
	conns := make(chan *stub.Conn, 1)
	d := &stub.Dialer{New: func() *stub.Conn {
		c := stub.NewConn()
		conns <- c
		return c
	}}
	cfg := Config{Dialer: d, ConnectEvent: "session-ready", Timeout: time.Millisecond}

	s := Observe(context.Background(), func(ctx context.Context) (Result, error) {
		return Run(ctx, cfg, Definition{
			URL:    Value("tcp://broker:1883"),
			Verb:   VerbPublish,
			Packet: Value(Packet{Topic: "t"}),
		})
	})

	conn := <-conns
	time.Sleep(10 * time.Millisecond)
	assert.True(t, s.IsPending())
	assert.Empty(t, conn.Published())

	conn.Emit(transport.Event{Name: "session-ready"})
	_, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Len(t, conn.Published(), 1)
}

func TestRunWithoutURL(t *testing.T) {
	cfg, d := stubConfig(nil)
	_, err := Run(context.Background(), cfg, Definition{Verb: VerbPublish})
	assert.ErrorIs(t, err, ErrConnect)
	assert.Empty(t, d.Conns())
}
