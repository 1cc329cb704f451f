package mqttest

import (
	"context"

	"github.com/rs/zerolog"
)

// Result of a run: Message for a leaf action, Steps in input order for a
// step set.
type Result struct {
	Message Message
	Steps   []Message
}

type runState string

const (
	stateConnecting runState = "connecting"
	stateReady      runState = "ready"
	stateExecuting  runState = "executing"
	stateClosed     runState = "closed"
)

// Run executes def on a connection of its own. The connection is closed
// before Run returns, whatever the outcome. A failure is handed to
// def.Error, when set, after the connection is closed, and is returned
// either way.
func Run(ctx context.Context, cfg Config, def Definition) (Result, error) {
	log := zerolog.Ctx(ctx).With().Str("test", def.Name).Logger()
	ctx = log.WithContext(ctx)

	res, err := run(ctx, cfg, def)
	if err != nil {
		log.Debug().
			Str("state", string(stateClosed)).
			Str("kind", ErrorKind(err)).
			Err(err).
			Msg("run failed")
		if def.Error != nil {
			def.Error(err)
		}
		return Result{}, err
	}
	log.Debug().Str("state", string(stateClosed)).Msg("run passed")
	return res, nil
}

func run(ctx context.Context, cfg Config, def Definition) (Result, error) {
	log := zerolog.Ctx(ctx)

	log.Debug().Str("state", string(stateConnecting)).Send()
	c, err := Connect(ctx, cfg, def)
	if err != nil {
		return Result{}, err
	}
	defer c.Close()

	if _, err := c.WaitEvent(ctx, cfg.connectEvent()); err != nil {
		return Result{}, err
	}
	log.Debug().Str("state", string(stateReady)).Send()

	def = c.Definition()
	log.Debug().Str("state", string(stateExecuting)).Int("steps", len(def.Steps)).Send()
	if len(def.Steps) > 0 {
		msgs, err := runSteps(ctx, c, cfg, def)
		if err != nil {
			return Result{}, err
		}
		return Result{Steps: msgs}, nil
	}

	msg, err := execute(ctx, c, cfg, def)
	if err != nil {
		return Result{}, err
	}
	return Result{Message: msg}, nil
}
