package runner

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/climate-pipeline/internal/graph"
	"github.com/sells-group/climate-pipeline/internal/model"
	"github.com/sells-group/climate-pipeline/internal/store"
)

// Recorder observes stage transitions. Implementations must be safe for
// concurrent use and must not block the run on their own failures.
type Recorder interface {
	StageStarted(ctx context.Context, n *graph.StageNode)
	StageFinished(ctx context.Context, n *graph.StageNode, out Outcome)
	StageSkipped(ctx context.Context, n *graph.StageNode, reason string)
}

type nopRecorder struct{}

func (nopRecorder) StageStarted(context.Context, *graph.StageNode)          {}
func (nopRecorder) StageFinished(context.Context, *graph.StageNode, Outcome) {}
func (nopRecorder) StageSkipped(context.Context, *graph.StageNode, string)  {}

// Recorders fans every call out to each recorder in order.
type Recorders []Recorder

func (rs Recorders) StageStarted(ctx context.Context, n *graph.StageNode) {
	for _, r := range rs {
		r.StageStarted(ctx, n)
	}
}

func (rs Recorders) StageFinished(ctx context.Context, n *graph.StageNode, out Outcome) {
	for _, r := range rs {
		r.StageFinished(ctx, n, out)
	}
}

func (rs Recorders) StageSkipped(ctx context.Context, n *graph.StageNode, reason string) {
	for _, r := range rs {
		r.StageSkipped(ctx, n, reason)
	}
}

// StoreRecorder writes stage transitions into the run ledger.
type StoreRecorder struct {
	store store.Store
	runID string
	log   *zap.Logger

	mu     sync.Mutex
	starts map[string]string // stage id -> stage run id
}

// NewStoreRecorder records the stages of runID into s.
func NewStoreRecorder(s store.Store, runID string) *StoreRecorder {
	return &StoreRecorder{
		store:  s,
		runID:  runID,
		log:    zap.L().With(zap.String("component", "runner.recorder"), zap.String("run_id", runID)),
		starts: make(map[string]string),
	}
}

func (r *StoreRecorder) StageStarted(ctx context.Context, n *graph.StageNode) {
	sr, err := r.store.StartStage(ctx, r.runID, n.ID, string(n.Kind), n.Year)
	if err != nil {
		r.log.Warn("record stage start", zap.String("stage", n.ID), zap.Error(err))
		return
	}
	r.mu.Lock()
	r.starts[n.ID] = sr.ID
	r.mu.Unlock()
}

func (r *StoreRecorder) StageFinished(ctx context.Context, n *graph.StageNode, out Outcome) {
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()
	id, ok := r.starts[n.ID]
	r.mu.Unlock()
	if !ok {
		// Cancelled before launch: open the row so the failure is kept.
		sr, err := r.store.StartStage(ctx, r.runID, n.ID, string(n.Kind), n.Year)
		if err != nil {
			r.log.Warn("record stage start", zap.String("stage", n.ID), zap.Error(err))
			return
		}
		id = sr.ID
	}

	res := store.StageResult{
		Status:   model.StageStatus(out.State),
		Attempts: out.Attempts,
		Metadata: out.Metadata,
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	if err := r.store.FinishStage(ctx, id, res); err != nil {
		r.log.Warn("record stage finish", zap.String("stage", n.ID), zap.Error(err))
	}
}

func (r *StoreRecorder) StageSkipped(ctx context.Context, n *graph.StageNode, reason string) {
	if err := r.store.SkipStage(context.WithoutCancel(ctx), r.runID, n.ID, string(n.Kind), n.Year, reason); err != nil {
		r.log.Warn("record stage skip", zap.String("stage", n.ID), zap.Error(err))
	}
}
