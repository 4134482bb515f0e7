package statemachine

import "context"

// Name is the constraint for state and event identifiers.
type Name interface {
	~string
}

// Guard evaluates whether a transition should be allowed based on runtime conditions.
type Guard[S, E Name, D any] func(ctx context.Context, from S, event E, data D) bool

// Action executes side effects during a transition. Returning an error aborts it.
type Action[S, E Name, D any] func(ctx context.Context, from, to S, event E, data D) error

// Transition defines a state change triggered by an event, with optional guards and actions.
type Transition[S, E Name, D any] struct {
	From    S
	To      S
	Event   E
	Guards  []Guard[S, E, D]  // All must pass for transition to proceed
	Actions []Action[S, E, D] // Executed in order before the new state is returned
}

// Machine is a stateless transition table. The current state is owned by the
// caller (usually a persisted row) and passed to every call, so one Machine
// can be shared by any number of goroutines once built.
type Machine[S, E Name, D any] struct {
	transitions map[S]map[E][]Transition[S, E, D]
}

// Fire resolves the transition for (current, event), runs its actions and
// returns the destination state. On any error the caller keeps its current state.
func (m *Machine[S, E, D]) Fire(ctx context.Context, current S, event E, data D) (S, error) {
	t, err := m.resolve(ctx, current, event, data)
	if err != nil {
		return current, err
	}

	for _, action := range t.Actions {
		if err := action(ctx, current, t.To, event, data); err != nil {
			return current, &ActionError{StateName: string(current), EventName: string(event), Err: err}
		}
	}

	return t.To, nil
}

// CanFire reports whether any transition for (current, event) would pass its guards.
func (m *Machine[S, E, D]) CanFire(ctx context.Context, current S, event E, data D) bool {
	_, err := m.resolve(ctx, current, event, data)
	return err == nil
}

// Target returns the state Fire would move to without running actions.
func (m *Machine[S, E, D]) Target(ctx context.Context, current S, event E, data D) (S, error) {
	t, err := m.resolve(ctx, current, event, data)
	if err != nil {
		return current, err
	}
	return t.To, nil
}

// Events lists the events that have at least one transition out of the state.
func (m *Machine[S, E, D]) Events(from S) []E {
	events := make([]E, 0, len(m.transitions[from]))
	for e := range m.transitions[from] {
		events = append(events, e)
	}
	return events
}

func (m *Machine[S, E, D]) resolve(ctx context.Context, current S, event E, data D) (*Transition[S, E, D], error) {
	candidates := m.transitions[current][event]
	if len(candidates) == 0 {
		return nil, NewErrNoTransitionAvailable(string(current), string(event))
	}

	// First transition with passing guards wins (enables priority ordering)
	for i := range candidates {
		if guardsPass(ctx, candidates[i].Guards, current, event, data) {
			return &candidates[i], nil
		}
	}

	return nil, NewErrTransitionRejected(string(current), string(event))
}

func (m *Machine[S, E, D]) add(t Transition[S, E, D]) error {
	if t.From == "" || t.To == "" || t.Event == "" {
		return ErrInvalidTransition
	}
	if _, ok := m.transitions[t.From]; !ok {
		m.transitions[t.From] = make(map[E][]Transition[S, E, D])
	}
	// Multiple transitions allowed for same from/event to support guard-based branching
	m.transitions[t.From][t.Event] = append(m.transitions[t.From][t.Event], t)
	return nil
}

func guardsPass[S, E Name, D any](ctx context.Context, guards []Guard[S, E, D], from S, event E, data D) bool {
	for _, guard := range guards {
		if guard != nil && !guard(ctx, from, event, data) {
			return false
		}
	}
	return true
}
