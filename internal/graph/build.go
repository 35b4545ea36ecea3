package graph

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/climate-pipeline/internal/years"
)

// StageTemplate describes one stage of a branch (or the fan-in stage). ID,
// Inputs, Output and Table may contain years.Placeholder.
type StageTemplate struct {
	Kind   Kind
	ID     string
	Inputs []string
	Output string
	Table  string
}

// BranchTemplate is an ordered chain of stages instantiated once per year.
// Name becomes the Source of each generated node.
type BranchTemplate struct {
	Name   string
	Stages []StageTemplate
}

// Templates is the full per-run template set.
type Templates struct {
	Branches []BranchTemplate

	// Combine, when set, becomes the single fan-in node depending on the
	// terminal stage of every branch. Its patterns are left unexpanded; the
	// node carries the whole year set instead.
	Combine *StageTemplate

	// CombineCatalog, when set, registers the combined output after Combine.
	CombineCatalog *StageTemplate
}

func (t StageTemplate) instantiate(year int, source string) *StageNode {
	n := &StageNode{
		ID:     years.Expand(t.ID, year),
		Kind:   t.Kind,
		Source: source,
		Year:   year,
		Output: years.Expand(t.Output, year),
		Table:  years.Expand(t.Table, year),
	}
	for _, in := range t.Inputs {
		n.Inputs = append(n.Inputs, years.Expand(in, year))
	}
	return n
}

func (t StageTemplate) fanIn(ys years.Set) *StageNode {
	return &StageNode{
		ID:     t.ID,
		Kind:   t.Kind,
		Years:  ys.Years(),
		Inputs: append([]string(nil), t.Inputs...),
		Output: t.Output,
		Table:  t.Table,
	}
}

// Build materializes the graph for one run: one branch per (year, branch
// template) with on_success edges inside the branch, then the fan-in combine
// node with on_completion edges from every branch's terminal stage, then the
// optional combined catalog stage with an on_completion edge from combine.
//
// Build is a pure function of its inputs. An empty year set is a caller bug
// and fails with ErrEmptyYearSet.
func Build(ys years.Set, t Templates) (*TaskGraph, error) {
	if ys.Empty() {
		return nil, eris.Wrap(ErrEmptyYearSet, "graph: build")
	}
	if len(t.Branches) == 0 {
		return nil, invalidf("no branch templates")
	}
	if t.CombineCatalog != nil && t.Combine == nil {
		return nil, invalidf("combine catalog template requires a combine template")
	}

	var (
		nodes     []*StageNode
		edges     []Edge
		terminals []string
	)

	for _, y := range ys.Years() {
		for _, b := range t.Branches {
			if len(b.Stages) == 0 {
				return nil, invalidf("branch %q has no stages", b.Name)
			}
			prev := ""
			for _, st := range b.Stages {
				n := st.instantiate(y, b.Name)
				nodes = append(nodes, n)
				if prev != "" {
					edges = append(edges, Edge{From: prev, To: n.ID, Policy: OnSuccess})
				}
				prev = n.ID
			}
			terminals = append(terminals, prev)
		}
	}

	if t.Combine != nil {
		combine := t.Combine.fanIn(ys)
		nodes = append(nodes, combine)
		for _, term := range terminals {
			edges = append(edges, Edge{From: term, To: combine.ID, Policy: OnCompletion})
		}

		if t.CombineCatalog != nil {
			cat := t.CombineCatalog.fanIn(ys)
			nodes = append(nodes, cat)
			edges = append(edges, Edge{From: combine.ID, To: cat.ID, Policy: OnCompletion})
		}
	}

	return New(nodes, edges)
}
