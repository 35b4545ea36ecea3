// Package runner executes a task graph: independent stages run in parallel up
// to a concurrency limit, every stage gets a bounded fixed-delay retry, and
// readiness is decided by the graph's wait policies.
package runner

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/climate-pipeline/internal/graph"
	"github.com/sells-group/climate-pipeline/internal/resilience"
)

// Result is what a handler reports for a successful stage.
type Result struct {
	Metadata map[string]any
}

// Handler executes one stage.
type Handler interface {
	Run(ctx context.Context, node *graph.StageNode) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, node *graph.StageNode) (Result, error)

// Run calls f.
func (f HandlerFunc) Run(ctx context.Context, node *graph.StageNode) (Result, error) {
	return f(ctx, node)
}

// Dependency is the state a dependency of the running stage reached in this
// run.
type Dependency struct {
	StageID string
	Year    int
	State   graph.State
}

type upstreamKey struct{}

// WithUpstream returns ctx carrying the dependencies of a stage.
func WithUpstream(ctx context.Context, deps []Dependency) context.Context {
	return context.WithValue(ctx, upstreamKey{}, deps)
}

// Upstream returns the dependencies the runner attached to ctx. ok is false
// when the stage runs outside a Runner.
func Upstream(ctx context.Context) (deps []Dependency, ok bool) {
	deps, ok = ctx.Value(upstreamKey{}).([]Dependency)
	return deps, ok
}

// Options configures a Runner.
type Options struct {
	// Concurrency caps the number of stages running at once. Default 4.
	Concurrency int
	// Retries is the number of extra attempts per stage.
	Retries int
	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration
	// Recorder observes stage transitions. Optional.
	Recorder Recorder
}

// Runner drives a graph to completion.
type Runner struct {
	handler  Handler
	opts     Options
	recorder Recorder
	log      *zap.Logger
}

// New creates a Runner.
func New(h Handler, opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Runner{
		handler:  h,
		opts:     opts,
		recorder: rec,
		log:      zap.L().With(zap.String("component", "runner")),
	}
}

// Run executes g and returns once every stage is terminal. A stage failure
// never aborts the run; only an unusable graph returns an error.
func (r *Runner) Run(ctx context.Context, g *graph.TaskGraph) (*Summary, error) {
	if g == nil || g.Len() == 0 {
		return nil, eris.New("runner: empty graph")
	}

	start := time.Now()
	states := make(graph.States, g.Len())
	for _, n := range g.Nodes() {
		states[n.ID] = graph.StatePending
	}

	results := make(chan Outcome, g.Len())
	var eg errgroup.Group
	eg.SetLimit(r.opts.Concurrency)

	sum := &Summary{graph: g}
	inflight := 0

	for {
		ev := g.Evaluate(states)

		if len(ev.Blocked) > 0 {
			for _, id := range ev.Blocked {
				n, _ := g.Node(id)
				out := Outcome{StageID: id, Kind: n.Kind, Year: n.Year, State: graph.StateUpstreamFailed}
				states[id] = out.State
				sum.add(out)
				r.recorder.StageSkipped(ctx, n, "upstream stage did not succeed")
				r.log.Warn("stage skipped", zap.String("stage", id), zap.String("state", string(out.State)))
			}
			continue
		}

		for _, id := range ev.Ready {
			n, _ := g.Node(id)
			states[id] = graph.StateRunning
			inflight++
			var up []Dependency
			for _, e := range g.Dependencies(id) {
				dep, _ := g.Node(e.From)
				up = append(up, Dependency{StageID: e.From, Year: dep.Year, State: states[e.From]})
			}
			eg.Go(func() error {
				results <- r.execute(WithUpstream(ctx, up), n)
				return nil
			})
		}

		if inflight == 0 {
			break
		}

		out := <-results
		inflight--
		states[out.StageID] = out.State
		sum.add(out)
	}

	_ = eg.Wait()
	sum.Elapsed = time.Since(start)
	sum.Status = sum.status()

	r.log.Info("run complete",
		zap.String("status", string(sum.Status)),
		zap.Int("stages", g.Len()),
		zap.Int("failed", len(sum.Failed())),
		zap.Duration("elapsed", sum.Elapsed),
	)
	return sum, nil
}

// execute runs one stage with the retry policy. Attempts beyond the first are
// counted; a cancelled context fails the stage without calling the handler.
func (r *Runner) execute(ctx context.Context, n *graph.StageNode) Outcome {
	out := Outcome{StageID: n.ID, Kind: n.Kind, Year: n.Year}
	log := r.log.With(zap.String("stage", n.ID), zap.String("kind", string(n.Kind)))

	if err := ctx.Err(); err != nil {
		out.State = graph.StateFailed
		out.Err = eris.Wrapf(err, "runner: stage %s not started", n.ID)
		r.recorder.StageFinished(ctx, n, out)
		return out
	}

	r.recorder.StageStarted(ctx, n)
	start := time.Now()

	policy := resilience.Fixed(r.opts.Retries, r.opts.RetryDelay)
	policy.OnRetry = resilience.RetryLogger("runner", n.ID)

	res, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (Result, error) {
		out.Attempts++
		return r.handler.Run(ctx, n)
	})
	out.Duration = time.Since(start)
	out.Metadata = res.Metadata

	if err != nil {
		out.State = graph.StateFailed
		out.Err = err
		log.Error("stage failed", zap.Int("attempts", out.Attempts), zap.Error(err))
	} else {
		out.State = graph.StateSucceeded
		log.Info("stage succeeded", zap.Int("attempts", out.Attempts), zap.Duration("elapsed", out.Duration))
	}

	r.recorder.StageFinished(ctx, n, out)
	return out
}
