package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew-r-thomas/mqttest/internal/stub"
	"github.com/andrew-r-thomas/mqttest/record"
)

func loopbackDialer() *stub.Dialer {
	return &stub.Dialer{
		AutoConnect: true,
		New: func() *stub.Conn {
			c := stub.NewConn()
			c.Loopback = true
			return c
		},
	}
}

func execute(t *testing.T, d *stub.Dialer, args ...string) (string, error) {
	t.Helper()
	opts := &RootOptions{}
	if d != nil {
		opts.dialer = d
	}
	cmd := newRootCommand(opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "mqttest", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"run", "list", "conformance", "peer"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	lvl := cmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, lvl)
	assert.Equal(t, "warn", lvl.DefValue)

	pretty := cmd.PersistentFlags().Lookup("pretty")
	require.NotNil(t, pretty)
	assert.Equal(t, "false", pretty.DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	for _, name := range []string{"url", "timeout", "parallel", "fail-fast", "parquet", "db"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "p", runCmd.Flags().Lookup("parallel").Shorthand)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, loopbackDialer(), "list", "--log-level", "loud", "testdata/suites/smoke.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestListGolden(t *testing.T) {
	out, err := execute(t, nil, "list", "testdata/suites/smoke.yaml")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "list", []byte(out))
}

func TestListMissingFile(t *testing.T) {
	_, err := execute(t, nil, "list", "testdata/suites/missing.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunPasses(t *testing.T) {
	d := loopbackDialer()
	dir := t.TempDir()
	db := filepath.Join(dir, "outcomes.db")
	pq := filepath.Join(dir, "outcomes.parquet")

	out, err := execute(t, d, "run", "testdata/suites/smoke.yaml",
		"--url", "tcp://broker:1883", "--parallel", "2", "--db", db, "--parquet", pq)
	require.NoError(t, err, out)

	assert.Contains(t, out, "PASS smoke/sensors/publish reading")
	assert.Contains(t, out, "PASS smoke/sensors/echo")
	assert.Contains(t, out, "3 passed, 0 failed, 0 skipped")
	assert.Contains(t, d.URLs(), "tcp://broker:1883")
	for _, c := range d.Conns() {
		assert.Equal(t, 1, c.Ends())
	}

	s, err := record.OpenStore(db)
	require.NoError(t, err)
	defer s.Close()
	flaky, err := s.Flaky()
	require.NoError(t, err)
	assert.Empty(t, flaky)
	assert.FileExists(t, pq)
}

func TestRunFailureExitCode(t *testing.T) {
	out, err := execute(t, loopbackDialer(), "run", "testdata/suites/broken.yaml", "--url", "tcp://broker:1883")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL broken/teleport")
	assert.Contains(t, out, "invalid definition verb")
	assert.Contains(t, out, "PASS broken/fine")
	assert.Contains(t, out, "1 passed, 1 failed, 0 skipped")
}

func TestRunFailFastSkips(t *testing.T) {
	out, err := execute(t, loopbackDialer(), "run", "testdata/suites/broken.yaml",
		"--url", "tcp://broker:1883", "--fail-fast")
	require.Error(t, err)
	assert.Contains(t, out, "SKIP broken/fine")
	assert.Contains(t, out, "0 passed, 1 failed, 1 skipped")
}

func TestConformanceCommand(t *testing.T) {
	out, err := execute(t, loopbackDialer(), "conformance", "--url", "tcp://broker:1883",
		"--timeout", "40ms", "--qos", "0,1,2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "PASS conformance/echo qos 2")
	assert.Contains(t, out, "3 passed")

	_, err = execute(t, loopbackDialer(), "conformance", "--qos", "3")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPeerCommand(t *testing.T) {
	d := loopbackDialer()
	out, err := execute(t, d, "peer", "--url", "tcp://broker:1883", "--topic", "load",
		"--every", "2ms", "--duration", "30ms", "--payload", "x")
	require.NoError(t, err)
	assert.Contains(t, out, "sent ")

	require.Len(t, d.Conns(), 1)
	pub := d.Conns()[0].Published()
	require.NotEmpty(t, pub)
	assert.Equal(t, "load", pub[0].Topic)

	_, err = execute(t, d, "peer")
	assert.Error(t, err)
}
