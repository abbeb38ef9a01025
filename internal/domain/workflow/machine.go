package workflow

// Table is the compiled, immutable transition table
type Table interface {
	// Lookup returns the edge from -> to, or nil when it does not exist
	Lookup(from, to State) *Edge

	// Candidates returns, in declared order, every edge leaving from with the given action
	Candidates(from State, action Action) []*Edge

	// Resolve picks the edge to apply for a request targeting to. When the
	// requested edge shares its action with selector-bearing siblings, the
	// first sibling whose selector matches wins; otherwise the requested
	// edge is returned so that its guards report why it cannot fire.
	Resolve(t *Transition, to State) *Edge

	// Outgoing returns all edges leaving a state
	Outgoing(from State) []*Edge
}

type table struct {
	edges map[State][]*Edge
}

func (tb *table) Lookup(from, to State) *Edge {
	for _, e := range tb.edges[from] {
		if e.To == to {
			return e
		}
	}
	return nil
}

func (tb *table) Candidates(from State, action Action) []*Edge {
	var out []*Edge
	for _, e := range tb.edges[from] {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (tb *table) Resolve(t *Transition, to State) *Edge {
	requested := tb.Lookup(t.From(), to)
	if requested == nil {
		return nil
	}
	if requested.Selector == nil {
		return requested
	}
	for _, candidate := range tb.Candidates(t.From(), requested.Action) {
		if candidate.Selector != nil && candidate.Selector(t) {
			return candidate
		}
	}
	return requested
}

func (tb *table) Outgoing(from State) []*Edge {
	return append([]*Edge{}, tb.edges[from]...)
}
