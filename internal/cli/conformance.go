package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/andrew-r-thomas/mqttest/conformance"
	"github.com/andrew-r-thomas/mqttest/suite"
)

type ConformanceOptions struct {
	*RootOptions
	URL     string
	Topic   string
	Timeout time.Duration
	Delay   time.Duration
	QoS     []uint
}

func NewConformanceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConformanceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "conformance",
		Short: "Check a broker echoes a random payload back to a subscriber",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			qos := make([]byte, 0, len(opts.QoS))
			for _, q := range opts.QoS {
				if q > 2 {
					return NewExitError(ExitCommandError, "qos must be 0, 1 or 2")
				}
				qos = append(qos, byte(q))
			}
			tree, err := conformance.Tree(conformance.Options{
				URL:     opts.URL,
				Topic:   opts.Topic,
				Timeout: opts.Timeout,
				Delay:   opts.Delay,
				QoS:     qos,
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "building conformance suite", err)
			}
			tests, err := suite.Flatten(opts.config(0), tree)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid suite", err)
			}

			var t tally
			out := cmd.OutOrStdout()
			for _, o := range suite.RunTests(opts.ctx(cmd), tests, suite.RunOptions{}) {
				t.report(out, o)
			}
			return t.summary(out)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", urlFromEnv(), "broker url ($MQTTEST_URL)")
	cmd.Flags().StringVar(&opts.Topic, "topic", conformance.DefaultTopic, "topic to echo on")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Second, "time allowed for the echo")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "time allowed for the subscribe ack before publishing, timeout/4 when 0")
	cmd.Flags().UintSliceVar(&opts.QoS, "qos", []uint{0, 1}, "qos levels to cover")

	return cmd
}
