package workflow

import "fmt"

// Edge is one row of the transition table
type Edge struct {
	From     State
	To       State
	Action   Action
	Selector SelectorFunc
	Guards   []GuardFunc
	Effects  []EffectFunc
}

// EdgeOption configures an edge at build time
type EdgeOption func(*Edge)

// WithGuards appends ordered guards to the edge
func WithGuards(guards ...GuardFunc) EdgeOption {
	return func(e *Edge) {
		e.Guards = append(e.Guards, guards...)
	}
}

// WithEffects appends ordered effects to the edge
func WithEffects(effects ...EffectFunc) EdgeOption {
	return func(e *Edge) {
		e.Effects = append(e.Effects, effects...)
	}
}

// WithSelector marks the edge as one of several candidates for its action
func WithSelector(selector SelectorFunc) EdgeOption {
	return func(e *Edge) {
		e.Selector = selector
	}
}

// TableBuilder builds a transition table
type TableBuilder interface {
	// Configure returns a state configuration for the given source state
	Configure(state State) StateConfiguration

	// Build freezes the configured edges into a Table
	Build() Table
}

// StateConfiguration configures the outgoing edges of a state
type StateConfiguration interface {
	// Permit adds an edge to the target state for the given action
	Permit(action Action, toState State, opts ...EdgeOption) StateConfiguration
}

type stateConfig struct {
	fromState State
	edges     []*Edge
}

type tableBuilder struct {
	configurations map[State]*stateConfig
}

// NewBuilder creates a new transition table builder
func NewBuilder() TableBuilder {
	return &tableBuilder{
		configurations: make(map[State]*stateConfig),
	}
}

// Configure returns a state configuration for the given state
func (b *tableBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if state.IsTerminal() {
		panic(fmt.Sprintf("terminal state cannot have transitions: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{fromState: state}
		b.configurations[state] = config
	}
	return config
}

// Permit adds an edge to the target state for the given action
func (c *stateConfig) Permit(action Action, toState State, opts ...EdgeOption) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	for _, existing := range c.edges {
		if existing.To == toState {
			panic(fmt.Sprintf("duplicate edge %s -> %s", c.fromState, toState))
		}
	}

	edge := &Edge{From: c.fromState, To: toState, Action: action}
	for _, opt := range opts {
		opt(edge)
	}
	c.edges = append(c.edges, edge)
	return c
}

// Build freezes the configured edges into a Table
func (b *tableBuilder) Build() Table {
	edges := make(map[State][]*Edge, len(b.configurations))
	for state, config := range b.configurations {
		copied := make([]*Edge, 0, len(config.edges))
		for _, e := range config.edges {
			clone := *e
			clone.Guards = append([]GuardFunc{}, e.Guards...)
			clone.Effects = append([]EffectFunc{}, e.Effects...)
			copied = append(copied, &clone)
		}
		edges[state] = copied
	}
	return &table{edges: edges}
}
