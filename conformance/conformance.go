// Package conformance is a canned suite that checks a broker delivers a
// random payload back to a subscriber on the same connection.
package conformance

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/andrew-r-thomas/mqttest"
	"github.com/andrew-r-thomas/mqttest/suite"
	"github.com/andrew-r-thomas/mqttest/transport"
)

const (
	DefaultTopic = "test/topic"
	PayloadSize  = 256
)

// Options tune the canned suite.
type Options struct {
	URL string
	// Topic defaults to DefaultTopic.
	Topic string
	// Timeout bounds each step. The publish step waits it out before it
	// passes, so the subscriber has that long to see the echo.
	Timeout time.Duration
	// Delay holds the publish back so the subscription on the same
	// connection is acknowledged before the echo is sent. Steps run
	// concurrently with no ordering between them, so a broker that takes
	// longer than Delay to ack the subscribe fails the test. Defaults to
	// Timeout/4.
	Delay time.Duration
	// QoS levels to cover, one test each. Defaults to 0.
	QoS []byte
}

// Tree builds the suite. Every test subscribes to the topic and publishes a
// fresh random payload to it concurrently, the publish held back until
// the subscription has had time to be acknowledged.
func Tree(opts Options) (suite.Tree, error) {
	qos := opts.QoS
	if len(qos) == 0 {
		qos = []byte{0}
	}
	topic := opts.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = timeout / 4
	}

	var tests []mqttest.Definition
	for _, q := range qos {
		payload := make([]byte, PayloadSize)
		if _, err := rand.Read(payload); err != nil {
			return suite.Tree{}, err
		}
		cfg := &transport.ActionConfig{QoS: q}
		tests = append(tests, mqttest.Definition{
			Name:   fmt.Sprintf("echo qos %d", q),
			Config: cfg,
			Steps: []mqttest.Lazy[mqttest.Definition]{
				mqttest.Value(mqttest.Definition{
					Verb:    mqttest.VerbSubscribe,
					Packet:  mqttest.Value(mqttest.Packet{Topic: topic}),
					Timeout: delay + timeout,
					Expect:  payloadIs(payload),
				}),
				mqttest.Value(mqttest.Definition{
					Verb:    mqttest.VerbPublish,
					Packet:  delayed(mqttest.Packet{Topic: topic, Payload: payload}, delay),
					Timeout: timeout,
				}),
			},
		})
	}

	return suite.Tree{
		Defaults: mqttest.Definition{URL: mqttest.Value(opts.URL)},
		Suites: []suite.Suite{
			{Name: "conformance", Tests: &suite.Tree{Tests: tests}},
		},
	}, nil
}

func payloadIs(want []byte) mqttest.ExpectFunc {
	return func(m mqttest.Message) error {
		if !bytes.Equal(m.Payload, want) {
			return fmt.Errorf("incorrect payload: got %d bytes", len(m.Payload))
		}
		return nil
	}
}

func delayed(p mqttest.Packet, d time.Duration) mqttest.Lazy[mqttest.Packet] {
	return mqttest.Async(func(ctx context.Context) (mqttest.Packet, error) {
		select {
		case <-time.After(d):
			return p, nil
		case <-ctx.Done():
			return mqttest.Packet{}, ctx.Err()
		}
	})
}
