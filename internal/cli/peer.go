package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrew-r-thomas/mqttest/peer"
	"github.com/andrew-r-thomas/mqttest/transport"
)

type PeerOptions struct {
	*RootOptions
	URL      string
	Topic    string
	Every    time.Duration
	Payload  string
	Stamp    bool
	QoS      uint8
	Retain   bool
	Duration time.Duration
}

func NewPeerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PeerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Publish to a topic on an interval until interrupted",
		Long: `Publish to a topic on an interval, the way a suite peer does, until
interrupted or until --duration has passed.

Examples:
  mqttest peer --topic sensors/1 --every 100ms --payload '{"temp":21}'
  mqttest peer --topic load --every 1ms --stamp --duration 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.QoS > 2 {
				return NewExitError(ExitCommandError, "qos must be 0, 1 or 2")
			}
			ctx := opts.ctx(cmd)
			if opts.Duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.Duration)
				defer cancel()
			}

			p := &peer.Publisher{
				URL:     opts.URL,
				Topic:   opts.Topic,
				Every:   opts.Every,
				Payload: []byte(opts.Payload),
				Config:  transport.ActionConfig{QoS: opts.QoS, Retain: opts.Retain},
				Stamp:   opts.Stamp,
			}
			err := p.Run(ctx, opts.config(0))
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d\n", p.Sent())
			return err
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", urlFromEnv(), "broker url ($MQTTEST_URL)")
	cmd.Flags().StringVar(&opts.Topic, "topic", "", "topic to publish to")
	cmd.Flags().DurationVar(&opts.Every, "every", time.Second, "publish interval")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "payload of every publish")
	cmd.Flags().BoolVar(&opts.Stamp, "stamp", false, "prefix each payload with a uuid")
	cmd.Flags().Uint8Var(&opts.QoS, "qos", 0, "publish qos")
	cmd.Flags().BoolVar(&opts.Retain, "retain", false, "set the retain flag")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long, 0 runs until interrupted")
	cmd.MarkFlagRequired("topic")

	return cmd
}
