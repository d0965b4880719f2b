// Package batch runs independent simulation configurations concurrently.
// Runs share no mutable state, so each gets its own goroutine and a failed
// run never stops its siblings.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/stratasim/internal/config"
	"github.com/talgya/stratasim/internal/engine"
)

// Run is the outcome of one configuration in a batch.
type Run struct {
	Index  int            // Position in the input
	Result *engine.Result // Nil when the engine could not be built
	Err    error          // Build, model or cancellation error
}

// OK reports whether the run completed.
func (r Run) OK() bool {
	return r.Err == nil && r.Result != nil && r.Result.State == engine.StateCompleted
}

// Option configures RunAll.
type Option func(*options)

type options struct {
	limit      int
	log        *slog.Logger
	onComplete func(Run)
	engineOpts []engine.Option
}

// WithLimit caps how many runs execute at once. Zero or less means
// GOMAXPROCS.
func WithLimit(n int) Option {
	return func(o *options) { o.limit = n }
}

// WithLogger sets the logger passed to every engine.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithOnComplete registers a callback invoked as each run finishes. Calls
// are serialized.
func WithOnComplete(fn func(Run)) Option {
	return func(o *options) { o.onComplete = fn }
}

// WithEngineOptions applies extra options to every engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, opts...) }
}

// RunAll executes every config and returns one Run per config in input
// order. Cancelling ctx stops each run at its next step boundary.
func RunAll(ctx context.Context, cfgs []*config.Config, opts ...Option) []Run {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.limit <= 0 {
		o.limit = runtime.GOMAXPROCS(0)
	}

	runs := make([]Run, len(cfgs))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(o.limit)
	for i, cfg := range cfgs {
		g.Go(func() error {
			run := runOne(ctx, i, cfg, o)
			runs[i] = run

			mu.Lock()
			defer mu.Unlock()
			if o.onComplete != nil {
				o.onComplete(run)
			}
			return nil
		})
	}
	_ = g.Wait()

	o.log.Info("batch complete", "runs", len(runs), "failed", len(Failed(runs)))
	return runs
}

func runOne(ctx context.Context, i int, cfg *config.Config, o options) Run {
	run := Run{Index: i}
	if err := ctx.Err(); err != nil {
		run.Err = err
		return run
	}

	opts := append([]engine.Option{engine.WithLogger(o.log)}, o.engineOpts...)
	e, err := engine.New(cfg, opts...)
	if err != nil {
		run.Err = fmt.Errorf("run %d: %w", i, err)
		return run
	}
	if err := e.RunToCompletion(ctx); err != nil {
		run.Err = fmt.Errorf("run %d (%s): %w", i, e.RunID, err)
	}
	run.Result = e.Result()
	return run
}

// Failed returns the runs that did not complete.
func Failed(runs []Run) []Run {
	var out []Run
	for _, r := range runs {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Results returns the results of every run that produced one, in order.
func Results(runs []Run) []*engine.Result {
	out := make([]*engine.Result, 0, len(runs))
	for _, r := range runs {
		if r.Result != nil {
			out = append(out, r.Result)
		}
	}
	return out
}

// Err joins the errors of every failed run.
func Err(runs []Run) error {
	var errs []error
	for _, r := range runs {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// Seeds expands base into n configs with consecutive seeds starting at
// first, named by seed.
func Seeds(base *config.Config, first int64, n int) []*config.Config {
	out := make([]*config.Config, n)
	for i := range out {
		seed := first + int64(i)
		c := base.WithSeed(seed)
		c.Name = fmt.Sprintf("%s-s%d", base.Name, seed)
		out[i] = c
	}
	return out
}

// Sweep expands base into one config per value of the named interaction
// parameter.
func Sweep(base *config.Config, param string, values []float64) []*config.Config {
	out := make([]*config.Config, len(values))
	for i, v := range values {
		c := base.Clone()
		if c.InteractionParams == nil {
			c.InteractionParams = make(map[string]float64)
		}
		c.InteractionParams[param] = v
		c.Name = fmt.Sprintf("%s-%s=%g", base.Name, param, v)
		out[i] = c
	}
	return out
}
