package suite

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andrew-r-thomas/mqttest"
)

type Outcome struct {
	Test     Test
	Result   mqttest.Result
	Err      error
	Skipped  bool
	Started  time.Time
	Duration time.Duration
}

func (o Outcome) Passed() bool {
	return !o.Skipped && o.Err == nil
}

type RunOptions struct {
	// Parallel is the number of tests in flight, 1 when < 1.
	Parallel int
	// FailFast skips every test not yet started once one fails.
	FailFast bool
	// OnOutcome is called once per test as it finishes. Calls never
	// overlap.
	OnOutcome func(Outcome)
}

// RunTests runs tests on a pool of workers. Outcomes come back in test
// order, skipped tests included.
func RunTests(ctx context.Context, tests []Test, opts RunOptions) []Outcome {
	log := zerolog.Ctx(ctx)
	outcomes := make([]Outcome, len(tests))
	for i, t := range tests {
		outcomes[i] = Outcome{Test: t, Skipped: true}
	}

	workers := max(opts.Parallel, 1)
	workers = min(workers, len(tests))

	// stopping only ends the dequeue; tests already running finish on ctx
	stopCtx, stop := context.WithCancel(ctx)
	defer stop()

	idxChan := make(chan int, len(tests))
	for i := range tests {
		idxChan <- i
	}
	close(idxChan)

	var outLock sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxChan {
				if stopCtx.Err() != nil {
					continue
				}
				t := tests[i]
				tlog := log.With().Str("test", t.Name()).Int("worker", w).Logger()

				start := time.Now()
				res, err := t.Run(tlog.WithContext(ctx))
				o := Outcome{
					Test:     t,
					Result:   res,
					Err:      err,
					Started:  start,
					Duration: time.Since(start),
				}
				outcomes[i] = o

				if err != nil {
					tlog.Error().Err(err).Str("kind", mqttest.ErrorKind(err)).Dur("took", o.Duration).Msg("test failed")
					if opts.FailFast {
						stop()
					}
				} else {
					tlog.Info().Dur("took", o.Duration).Msg("test passed")
				}
				if opts.OnOutcome != nil {
					outLock.Lock()
					opts.OnOutcome(o)
					outLock.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	return outcomes
}
