package runner

import (
	"time"

	"github.com/sells-group/climate-pipeline/internal/graph"
	"github.com/sells-group/climate-pipeline/internal/model"
)

// Outcome is the terminal result of one stage.
type Outcome struct {
	StageID  string
	Kind     graph.Kind
	Year     int
	State    graph.State
	Attempts int
	Duration time.Duration
	Err      error
	Metadata map[string]any
}

// Summary collects every outcome of a run in completion order.
type Summary struct {
	Status   model.RunStatus
	Outcomes []Outcome
	Elapsed  time.Duration

	graph *graph.TaskGraph
	byID  map[string]int
}

func (s *Summary) add(o Outcome) {
	if s.byID == nil {
		s.byID = make(map[string]int)
	}
	s.byID[o.StageID] = len(s.Outcomes)
	s.Outcomes = append(s.Outcomes, o)
}

// Outcome returns the outcome of a stage.
func (s *Summary) Outcome(id string) (Outcome, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Outcome{}, false
	}
	return s.Outcomes[i], true
}

// Failed returns the outcomes that did not succeed.
func (s *Summary) Failed() []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.State != graph.StateSucceeded {
			out = append(out, o)
		}
	}
	return out
}

// FirstError returns the error of the earliest failed stage, or nil.
func (s *Summary) FirstError() error {
	for _, o := range s.Outcomes {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}

// status is succeeded when every stage succeeded, partial when only stages
// with dependents failed (a fan-in absorbed them), and failed otherwise.
func (s *Summary) status() model.RunStatus {
	if len(s.Failed()) == 0 {
		return model.RunStatusSucceeded
	}
	for _, n := range s.graph.Nodes() {
		if len(s.graph.Dependents(n.ID)) > 0 {
			continue
		}
		if o, ok := s.Outcome(n.ID); !ok || o.State != graph.StateSucceeded {
			return model.RunStatusFailed
		}
	}
	return model.RunStatusPartial
}
