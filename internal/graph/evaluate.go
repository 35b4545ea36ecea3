package graph

// State is the lifecycle state of a stage within one run.
type State string

const (
	StatePending        State = "pending"
	StateRunning        State = "running"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
	StateUpstreamFailed State = "upstream_failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateUpstreamFailed:
		return true
	default:
		return false
	}
}

// States maps stage id to its current state. A missing id counts as pending.
type States map[string]State

// Evaluation is the result of a readiness check.
type Evaluation struct {
	// Ready lists pending stages whose dependencies allow them to start.
	Ready []string
	// Blocked lists pending stages that can never start because an
	// on_success dependency did not succeed; they become upstream_failed.
	Blocked []string
}

// Evaluate classifies pending stages. A stage is considered only once every
// dependency is terminal; partial results of an in-flight dependency are
// never visible downstream. Both lists follow insertion order.
//
// Evaluate is pure: it does not mutate the graph or states.
func (g *TaskGraph) Evaluate(states States) Evaluation {
	var ev Evaluation
	for i, n := range g.nodes {
		if st, ok := states[n.ID]; ok && st != StatePending {
			continue
		}

		allTerminal := true
		satisfied := true
		for _, pos := range g.incoming[i] {
			e := g.edges[pos]
			dep := states[g.nodes[e.from].ID]
			if !dep.Terminal() {
				allTerminal = false
				break
			}
			if e.policy == OnSuccess && dep != StateSucceeded {
				satisfied = false
			}
		}
		if !allTerminal {
			continue
		}
		if satisfied {
			ev.Ready = append(ev.Ready, n.ID)
		} else {
			ev.Blocked = append(ev.Blocked, n.ID)
		}
	}
	return ev
}
