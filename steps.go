package mqttest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// expandSteps merges every step over def, resolving step producers in
// order.
func expandSteps(ctx context.Context, def Definition) ([]Definition, error) {
	defs := make([]Definition, len(def.Steps))
	for i, step := range def.Steps {
		sd, err := step.Resolve(ctx)
		if err != nil {
			return nil, &StepError{
				Index: i,
				Err:   fmt.Errorf("%w: %w", ErrInvalidDefinition, err),
			}
		}
		defs[i] = def.Merge(sd)
	}
	return defs, nil
}

// runSteps launches every step at once on the shared connection. The
// results keep input order. The first failing step cancels the others and
// is returned as a *StepError.
func runSteps(ctx context.Context, c *Client, cfg Config, def Definition) ([]Message, error) {
	defs, err := expandSteps(ctx, def)
	if err != nil {
		return nil, err
	}

	log := zerolog.Ctx(ctx)
	results := make([]Message, len(defs))
	settlements := make([]*Settlement[Message], len(defs))
	for i := range defs {
		settlements[i] = newSettlement[Message]()
	}
	snapshot := func() []State {
		states := make([]State, len(settlements))
		for i, s := range settlements {
			states[i] = s.State()
		}
		return states
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, sd := range defs {
		i, sd := i, sd
		s := settlements[i]
		stepLog := log.With().Int("step", i).Str("step_name", sd.Name).Logger()
		stepLog.Debug().Stringer("state", s.State()).Msg("step launched")

		g.Go(func() error {
			msg, err := execute(stepLog.WithContext(gctx), c, cfg, sd)
			s.settle(msg, err)
			stepLog.Debug().Stringer("state", s.State()).Msg("step settled")
			if err != nil {
				return &StepError{Index: i, Name: sd.Name, States: snapshot(), Err: err}
			}
			results[i] = msg
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
