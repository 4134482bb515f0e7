// Package statemachine provides a generic, stateless finite-state-machine
// transition table.
//
// States and events are any string-based types. A Machine only holds the
// transition table; the current state lives with the caller (typically a
// database row) and is passed to Fire, which returns the destination state.
// This keeps a single Machine safe to share between goroutines and lets the
// persisted row remain the source of truth.
//
// Transitions support:
//  1. Guard evaluation: several transitions may share (from, event); the first
//     whose guards all pass wins, which allows branching on event data.
//  2. Actions: side effects executed in order before the new state is
//     returned. Any action error aborts the transition with an *ActionError.
//
// # Usage
//
//	type Status string
//	type Event string
//
//	m := statemachine.MustNew(
//	    statemachine.WithTransition[Status, Event, Order]("draft", "submitted", "submit",
//	        statemachine.WithGuard(func(ctx context.Context, from Status, e Event, o Order) bool {
//	            return o.Total > 0
//	        }),
//	    ),
//	)
//
//	next, err := m.Fire(ctx, order.Status, "submit", order)
//
// # Error Handling
//
// Use IsNoTransitionAvailableError, IsTransitionRejectedError and
// IsActionError to tell "transition not defined", "guard rejected" and
// "side effect failed" apart.
package statemachine
