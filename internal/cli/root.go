// Package cli is the mqttest command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/andrew-r-thomas/mqttest"
	"github.com/andrew-r-thomas/mqttest/transport"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel string
	Pretty   bool

	log zerolog.Logger
	// dialer replaces the paho dialer in tests.
	dialer transport.Dialer
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mqttest",
		Short: "Declarative end-to-end tests for MQTT brokers",
		Long: `Run declarative publish and subscribe tests against an MQTT broker.

Suites are YAML files of named suites or test lists. Every test runs on a
connection of its own which is always closed afterwards.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := zerolog.ParseLevel(opts.LogLevel)
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid log level %q", opts.LogLevel))
			}
			out := cmd.ErrOrStderr()
			if opts.Pretty {
				out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
			}
			opts.log = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level (trace|debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.Pretty, "pretty", false, "human readable logs instead of json")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewConformanceCommand(opts))
	cmd.AddCommand(NewPeerCommand(opts))

	return cmd
}

// ctx returns the command context carrying the logger.
func (o *RootOptions) ctx(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return o.log.WithContext(ctx)
}

func (o *RootOptions) config(timeout time.Duration) mqttest.Config {
	return mqttest.Config{Dialer: o.dialer, Timeout: timeout}
}

// urlFromEnv is the --url default.
func urlFromEnv() string {
	if u := os.Getenv("MQTTEST_URL"); u != "" {
		return u
	}
	return "tcp://localhost:1883"
}
