package cli

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/andrew-r-thomas/mqttest/peer"
	"github.com/andrew-r-thomas/mqttest/record"
	"github.com/andrew-r-thomas/mqttest/suite"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	URL      string
	Timeout  time.Duration
	Parallel int
	FailFast bool
	Parquet  string // parquet file for outcome rows
	DB       string // sqlite database for outcome rows
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <suite.yaml>...",
		Short: "Run suite files against a broker",
		Long: `Run every test of the given suite files and print one line per test.

Peers declared in the files publish in the background while the tests run.

Exit codes:
  0 - All tests passed
  1 - One or more tests failed
  2 - Command error (unreadable suite, sink error, etc.)

Examples:
  mqttest run suites/*.yaml --url tcp://localhost:1883
  mqttest run smoke.yaml --parallel 8 --fail-fast
  mqttest run smoke.yaml --db outcomes.db --parquet outcomes.parquet`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuites(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", urlFromEnv(), "broker url for tests that set none ($MQTTEST_URL)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "timeout for actions that set none")
	cmd.Flags().IntVarP(&opts.Parallel, "parallel", "p", 1, "tests in flight")
	cmd.Flags().BoolVar(&opts.FailFast, "fail-fast", false, "skip the remaining tests after the first failure")
	cmd.Flags().StringVar(&opts.Parquet, "parquet", "", "write outcome rows to this parquet file")
	cmd.Flags().StringVar(&opts.DB, "db", "", "append outcome rows to this sqlite database")

	return cmd
}

func runSuites(cmd *cobra.Command, opts *RunOptions, paths []string) error {
	ctx := opts.ctx(cmd)
	cfg := opts.config(opts.Timeout)

	tree, peers, err := loadFiles(paths, opts.URL)
	if err != nil {
		return err
	}
	tests, err := suite.Flatten(cfg, tree)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid suite", err)
	}

	rec, err := openRecorder(opts)
	if err != nil {
		return err
	}
	runID := uuid.NewString()
	opts.log.Info().Str("run", runID).Int("tests", len(tests)).Int("peers", len(peers)).Msg("run started")

	stopPeers := peer.Start(ctx, cfg, peers)

	var t tally
	var recErr error
	out := cmd.OutOrStdout()
	done := func(o suite.Outcome) {
		t.report(out, o)
		if rec != nil && recErr == nil {
			recErr = rec.Record(record.FromOutcome(runID, o))
		}
	}
	outcomes := suite.RunTests(ctx, tests, suite.RunOptions{
		Parallel:  opts.Parallel,
		FailFast:  opts.FailFast,
		OnOutcome: done,
	})
	// skipped tests never reach OnOutcome
	for _, o := range outcomes {
		if o.Skipped {
			done(o)
		}
	}

	if err := stopPeers(); err != nil {
		opts.log.Warn().Err(err).Msg("peer failed")
	}
	if rec != nil {
		if err := rec.Close(); err != nil && recErr == nil {
			recErr = err
		}
	}
	if recErr != nil {
		return WrapExitError(ExitCommandError, "recording outcomes", recErr)
	}
	return t.summary(out)
}

func openRecorder(opts *RunOptions) (record.Recorder, error) {
	var recs []record.Recorder
	if opts.Parquet != "" {
		pw, err := record.CreateParquet(opts.Parquet)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "opening parquet sink", err)
		}
		recs = append(recs, pw)
	}
	if opts.DB != "" {
		s, err := record.OpenStore(opts.DB)
		if err != nil {
			record.Multi(recs...).Close()
			return nil, WrapExitError(ExitCommandError, "opening sqlite sink", err)
		}
		recs = append(recs, s)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return record.Multi(recs...), nil
}
