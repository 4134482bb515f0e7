package statemachine

import "fmt"

// Option configures a state machine during construction.
type Option[S, E Name, D any] func(*Machine[S, E, D]) error

// TransitionOption configures a single transition with guards and actions.
type TransitionOption[S, E Name, D any] func(*Transition[S, E, D])

// New builds a machine from the given options.
func New[S, E Name, D any](opts ...Option[S, E, D]) (*Machine[S, E, D], error) {
	m := &Machine[S, E, D]{transitions: make(map[S]map[E][]Transition[S, E, D])}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNew is like New but panics if any option fails to apply.
func MustNew[S, E Name, D any](opts ...Option[S, E, D]) *Machine[S, E, D] {
	m, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create state machine: %v", err))
	}
	return m
}

// WithTransition adds a single transition to the machine.
func WithTransition[S, E Name, D any](from, to S, event E, opts ...TransitionOption[S, E, D]) Option[S, E, D] {
	return func(m *Machine[S, E, D]) error {
		t := Transition[S, E, D]{From: from, To: to, Event: event}
		for _, opt := range opts {
			opt(&t)
		}
		if err := m.add(t); err != nil {
			return fmt.Errorf("failed to add transition %q->%q on %q: %w", from, to, event, err)
		}
		return nil
	}
}

// WithTransitionFrom adds the same transition out of every listed state.
func WithTransitionFrom[S, E Name, D any](from []S, to S, event E, opts ...TransitionOption[S, E, D]) Option[S, E, D] {
	return func(m *Machine[S, E, D]) error {
		for _, f := range from {
			if err := WithTransition(f, to, event, opts...)(m); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithGuard adds a guard to a transition.
func WithGuard[S, E Name, D any](guard Guard[S, E, D]) TransitionOption[S, E, D] {
	return func(t *Transition[S, E, D]) {
		if guard != nil {
			t.Guards = append(t.Guards, guard)
		}
	}
}

// WithAction adds an action to a transition.
func WithAction[S, E Name, D any](action Action[S, E, D]) TransitionOption[S, E, D] {
	return func(t *Transition[S, E, D]) {
		if action != nil {
			t.Actions = append(t.Actions, action)
		}
	}
}
