// Package stages implements the work behind every stage kind of the task
// graph: extract, transfer, transform, catalog and combine.
package stages

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/climate-pipeline/internal/extract"
	"github.com/sells-group/climate-pipeline/internal/graph"
	"github.com/sells-group/climate-pipeline/internal/lake"
	"github.com/sells-group/climate-pipeline/internal/runner"
	"github.com/sells-group/climate-pipeline/internal/schema"
	"github.com/sells-group/climate-pipeline/internal/store"
)

// Deps are the collaborators shared by all stages.
type Deps struct {
	Lake       lake.Store
	Catalog    store.Store
	Extractors []extract.Extractor
	// Dataset is the catalog dataset tables are registered under.
	Dataset string
	// WorkDir holds per-stage scratch files. Empty uses the OS temp dir.
	WorkDir string
}

// Handlers dispatches a stage to its implementation by kind. It satisfies
// runner.Handler.
type Handlers struct {
	deps       Deps
	extractors map[schema.Source]extract.Extractor
	log        *zap.Logger
}

// New creates the stage handlers.
func New(deps Deps) *Handlers {
	ex := make(map[schema.Source]extract.Extractor, len(deps.Extractors))
	for _, e := range deps.Extractors {
		ex[e.Source()] = e
	}
	return &Handlers{
		deps:       deps,
		extractors: ex,
		log:        zap.L().With(zap.String("component", "stages")),
	}
}

var _ runner.Handler = (*Handlers)(nil)

// Run executes n.
func (h *Handlers) Run(ctx context.Context, n *graph.StageNode) (runner.Result, error) {
	switch n.Kind {
	case graph.KindExtract:
		return h.extract(ctx, n)
	case graph.KindTransfer:
		return h.transfer(ctx, n)
	case graph.KindTransform:
		return h.transform(ctx, n)
	case graph.KindCatalog:
		return h.catalog(ctx, n)
	case graph.KindCombine:
		return h.combine(ctx, n)
	default:
		return runner.Result{}, eris.Errorf("stages: unknown kind %q for %s", n.Kind, n.ID)
	}
}

func (h *Handlers) extract(ctx context.Context, n *graph.StageNode) (runner.Result, error) {
	src, err := schema.ParseSource(n.Source)
	if err != nil {
		return runner.Result{}, err
	}
	ex, ok := h.extractors[src]
	if !ok {
		return runner.Result{}, eris.Errorf("stages: no extractor for %s", src)
	}
	rows, err := ex.Extract(ctx, n.Year, n.Output)
	if err != nil {
		return runner.Result{}, err
	}
	return runner.Result{Metadata: map[string]any{"rows": rows, "path": n.Output}}, nil
}

func (h *Handlers) transfer(ctx context.Context, n *graph.StageNode) (runner.Result, error) {
	in := n.Input()
	if _, err := os.Stat(in); err != nil {
		return runner.Result{}, eris.Wrapf(err, "stages: transfer %s", n.ID)
	}
	if err := h.deps.Lake.Put(ctx, n.Output, in); err != nil {
		return runner.Result{}, err
	}
	return runner.Result{Metadata: map[string]any{"uri": h.deps.Lake.URI(n.Output)}}, nil
}

// scratch creates a private directory for one stage.
func (h *Handlers) scratch(n *graph.StageNode) (string, func(), error) {
	dir, err := os.MkdirTemp(h.deps.WorkDir, "stage-"+n.ID+"-*")
	if err != nil {
		return "", nil, eris.Wrap(err, "stages: create scratch dir")
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}
