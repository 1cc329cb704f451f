package suite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew-r-thomas/mqttest"
	"github.com/andrew-r-thomas/mqttest/internal/stub"
)

func flatTests(t *testing.T, cfg mqttest.Config, defs ...mqttest.Definition) []Test {
	t.Helper()
	tests, err := Flatten(cfg, Tree{
		Defaults: mqttest.Definition{URL: mqttest.Value("tcp://broker:1883"), Timeout: time.Millisecond},
		Tests:    defs,
	})
	require.NoError(t, err)
	return tests
}

func TestRunTestsOutcomesInOrder(t *testing.T) {
	cfg, d := stubConfig()
	tests := flatTests(t, cfg,
		mqttest.Definition{Name: "slow", Verb: mqttest.VerbPublish, Timeout: 30 * time.Millisecond,
			Packet: mqttest.Value(mqttest.Packet{Topic: "slow"})},
		publish("fast", "fast"),
		mqttest.Definition{Name: "bad", Verb: "teleport"},
	)

	var lock sync.Mutex
	var seen []string
	outcomes := RunTests(context.Background(), tests, RunOptions{
		Parallel: 3,
		OnOutcome: func(o Outcome) {
			lock.Lock()
			seen = append(seen, o.Test.Name())
			lock.Unlock()
		},
	})

	require.Len(t, outcomes, 3)
	assert.Equal(t, "slow", outcomes[0].Test.Name())
	assert.True(t, outcomes[0].Passed())
	assert.True(t, outcomes[1].Passed())
	assert.False(t, outcomes[2].Passed())
	assert.ErrorIs(t, outcomes[2].Err, mqttest.ErrInvalidVerb)
	assert.GreaterOrEqual(t, outcomes[0].Duration, 30*time.Millisecond)

	assert.ElementsMatch(t, []string{"slow", "fast", "bad"}, seen)
	assert.Len(t, d.Conns(), 3)
	for _, c := range d.Conns() {
		assert.Equal(t, 1, c.Ends())
	}
}

func TestRunTestsFailFast(t *testing.T) {
	nack := errors.New("nack")
	d := &stub.Dialer{
		AutoConnect: true,
		New: func() *stub.Conn {
			c := stub.NewConn()
			c.PublishErr = nack
			return c
		},
	}
	cfg := mqttest.Config{Dialer: d}
	tests := flatTests(t, cfg, publish("a", "t"), publish("b", "t"), publish("c", "t"))

	outcomes := RunTests(context.Background(), tests, RunOptions{Parallel: 1, FailFast: true})

	require.Len(t, outcomes, 3)
	assert.ErrorIs(t, outcomes[0].Err, mqttest.ErrTransport)
	assert.ErrorIs(t, outcomes[0].Err, nack)
	for _, o := range outcomes[1:] {
		assert.True(t, o.Skipped, o.Test.Name())
		assert.False(t, o.Passed())
	}
	assert.Len(t, d.Conns(), 1)
}

func TestRunTestsFailFastLetsRunningTestsFinish(t *testing.T) {
	cfg, _ := stubConfig()
	tests := flatTests(t, cfg,
		mqttest.Definition{Name: "slow", Verb: mqttest.VerbPublish, Timeout: 60 * time.Millisecond,
			Packet: mqttest.Value(mqttest.Packet{Topic: "slow"})},
		mqttest.Definition{Name: "bad", Verb: "teleport"},
		publish("later", "t"),
	)

	outcomes := RunTests(context.Background(), tests, RunOptions{Parallel: 2, FailFast: true})

	require.Len(t, outcomes, 3)
	assert.True(t, outcomes[0].Passed(), "%v", outcomes[0].Err)
	assert.False(t, outcomes[0].Skipped)
	assert.ErrorIs(t, outcomes[1].Err, mqttest.ErrInvalidVerb)
	assert.True(t, outcomes[2].Skipped)
}

func TestRunTestsWithoutFailFastRunsEverything(t *testing.T) {
	cfg, d := stubConfig()
	tests := flatTests(t, cfg, mqttest.Definition{Name: "bad", Verb: "teleport"}, publish("a", "t"))

	outcomes := RunTests(context.Background(), tests, RunOptions{})
	assert.Error(t, outcomes[0].Err)
	assert.True(t, outcomes[1].Passed())
	assert.Len(t, d.Conns(), 2)
}

func TestRunTestsEmpty(t *testing.T) {
	assert.Empty(t, RunTests(context.Background(), nil, RunOptions{Parallel: 4}))
}
