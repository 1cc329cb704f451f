package conformance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew-r-thomas/mqttest"
	"github.com/andrew-r-thomas/mqttest/internal/brokertest"
	"github.com/andrew-r-thomas/mqttest/internal/stub"
	"github.com/andrew-r-thomas/mqttest/suite"
)

func TestTreeShape(t *testing.T) {
	tree, err := Tree(Options{URL: "tcp://broker:1883", QoS: []byte{0, 1}})
	require.NoError(t, err)

	tests, err := suite.Flatten(mqttest.Config{}, tree)
	require.NoError(t, err)
	require.Len(t, tests, 2)
	assert.Equal(t, "conformance/echo qos 0", tests[0].Name())
	assert.Equal(t, "conformance/echo qos 1", tests[1].Name())
	assert.Len(t, tests[1].Definition.Steps, 2)
	assert.EqualValues(t, 1, tests[1].Definition.Config.QoS)
}

func TestTreeDelay(t *testing.T) {
	tree, err := Tree(Options{URL: "tcp://broker:1883", Timeout: time.Second, Delay: 30 * time.Millisecond})
	require.NoError(t, err)
	tests, err := suite.Flatten(mqttest.Config{}, tree)
	require.NoError(t, err)

	ctx := context.Background()
	sub, err := tests[0].Definition.Steps[0].Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Second+30*time.Millisecond, sub.Timeout)

	pub, err := tests[0].Definition.Steps[1].Resolve(ctx)
	require.NoError(t, err)
	start := time.Now()
	_, err = pub.Packet.Resolve(ctx)
	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, 250*time.Millisecond)
}

func TestPassesOnLoopback(t *testing.T) {
	d := &stub.Dialer{
		AutoConnect: true,
		New: func() *stub.Conn {
			c := stub.NewConn()
			c.Loopback = true
			return c
		},
	}
	tree, err := Tree(Options{URL: "tcp://broker:1883", Timeout: 40 * time.Millisecond})
	require.NoError(t, err)
	tests, err := suite.Flatten(mqttest.Config{Dialer: d}, tree)
	require.NoError(t, err)

	for _, o := range suite.RunTests(context.Background(), tests, suite.RunOptions{}) {
		assert.NoError(t, o.Err, o.Test.Name())
	}
}

func TestFailsWithoutEcho(t *testing.T) {
	d := &stub.Dialer{AutoConnect: true}
	tree, err := Tree(Options{URL: "tcp://broker:1883", Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	tests, err := suite.Flatten(mqttest.Config{Dialer: d}, tree)
	require.NoError(t, err)

	_, err = tests[0].Run(context.Background())
	assert.ErrorIs(t, err, mqttest.ErrTimeout)
}

func TestAgainstBroker(t *testing.T) {
	url := brokertest.Start(t)
	tree, err := Tree(Options{URL: url, Timeout: 200 * time.Millisecond, QoS: []byte{0, 1}})
	require.NoError(t, err)

	suite.Run(t, mqttest.Config{}, tree)
}
