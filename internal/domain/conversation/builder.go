package conversation

import "fmt"

// PolicyBuilder builds an immutable transition Policy
type PolicyBuilder interface {
	// Configure returns the edge configuration for the given source state
	Configure(state State) StateConfiguration

	// MicrophoneActiveIn designates states in which the candidate is being captured
	MicrophoneActiveIn(states ...State) PolicyBuilder

	// InterruptibleIn designates states in which the AI is producing output
	InterruptibleIn(states ...State) PolicyBuilder

	// InterruptTo sets the state a listener-initiated interrupt moves to
	InterruptTo(state State) PolicyBuilder

	// InactiveIn designates states in which the session is not underway
	InactiveIn(states ...State) PolicyBuilder

	// Build creates the Policy. Later changes to the builder do not affect it.
	Build() *Policy
}

// StateConfiguration configures the outgoing edges of one state
type StateConfiguration interface {
	// Permit allows transitions from the configured state to each target
	Permit(targets ...State) StateConfiguration
}

// stateConfig implements StateConfiguration
type stateConfig struct {
	fromState State
	targets   stateSet
}

// policyBuilder implements PolicyBuilder
type policyBuilder struct {
	configurations  map[State]*stateConfig
	microphone      stateSet
	interruptible   stateSet
	inactive        stateSet
	interruptTarget State
}

// NewPolicyBuilder creates a new, empty policy builder
func NewPolicyBuilder() PolicyBuilder {
	return &policyBuilder{
		configurations: make(map[State]*stateConfig),
		microphone:     make(stateSet),
		interruptible:  make(stateSet),
		inactive:       make(stateSet),
	}
}

// Configure returns the configuration for the given state, creating it on first use
func (b *policyBuilder) Configure(state State) StateConfiguration {
	mustBeValid(state, "configure")

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			fromState: state,
			targets:   make(stateSet),
		}
		b.configurations[state] = config
	}

	return config
}

func (b *policyBuilder) MicrophoneActiveIn(states ...State) PolicyBuilder {
	b.microphone.add("microphone-active", states...)
	return b
}

func (b *policyBuilder) InterruptibleIn(states ...State) PolicyBuilder {
	b.interruptible.add("interruptible", states...)
	return b
}

func (b *policyBuilder) InterruptTo(state State) PolicyBuilder {
	mustBeValid(state, "interrupt target")
	b.interruptTarget = state
	return b
}

func (b *policyBuilder) InactiveIn(states ...State) PolicyBuilder {
	b.inactive.add("inactive", states...)
	return b
}

// Build creates the Policy, deep-copying every set so the result is immutable
func (b *policyBuilder) Build() *Policy {
	if len(b.interruptible) > 0 && b.interruptTarget == "" {
		panic(fmt.Errorf("%w: interruptible states declared without an interrupt target", ErrInvalidPolicy))
	}

	edges := make(map[State]stateSet, len(allStates))
	for _, state := range allStates {
		edges[state] = make(stateSet)
	}
	for state, config := range b.configurations {
		edges[state] = config.targets.clone()
	}

	return &Policy{
		edges:           edges,
		microphone:      b.microphone.clone(),
		interruptible:   b.interruptible.clone(),
		inactive:        b.inactive.clone(),
		interruptTarget: b.interruptTarget,
	}
}

// Permit allows transitions from the configured state to each target
func (c *stateConfig) Permit(targets ...State) StateConfiguration {
	for _, target := range targets {
		mustBeValid(target, fmt.Sprintf("permit from %s", c.fromState))
		c.targets[target] = struct{}{}
	}
	return c
}

// mustBeValid panics when state is not part of the enumeration
func mustBeValid(state State, op string) {
	if !state.IsValid() {
		panic(fmt.Errorf("%w: %s: %q", ErrInvalidState, op, string(state)))
	}
}
