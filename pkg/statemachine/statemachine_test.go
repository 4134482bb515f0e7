package statemachine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hearth/pkg/statemachine"
)

type doorState string
type doorEvent string

type payload struct {
	hasKey bool
	target doorState
}

const (
	closed doorState = "closed"
	opened doorState = "opened"
	locked doorState = "locked"

	open   doorEvent = "open"
	shut   doorEvent = "shut"
	lock   doorEvent = "lock"
	unlock doorEvent = "unlock"
	force  doorEvent = "force"
)

type opt = statemachine.Option[doorState, doorEvent, payload]

func hasKey(_ context.Context, _ doorState, _ doorEvent, p payload) bool { return p.hasKey }

func targetIs(s doorState) statemachine.Guard[doorState, doorEvent, payload] {
	return func(_ context.Context, _ doorState, _ doorEvent, p payload) bool { return p.target == s }
}

func newDoor(t *testing.T, extra ...opt) *statemachine.Machine[doorState, doorEvent, payload] {
	t.Helper()

	opts := []opt{
		statemachine.WithTransition[doorState, doorEvent, payload](closed, opened, open),
		statemachine.WithTransition[doorState, doorEvent, payload](opened, closed, shut),
		statemachine.WithTransition(closed, locked, lock, statemachine.WithGuard(hasKey)),
		statemachine.WithTransition(locked, closed, unlock, statemachine.WithGuard(hasKey)),
	}
	m, err := statemachine.New(append(opts, extra...)...)
	require.NoError(t, err)
	return m
}

func TestMachineFire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("simple transition", func(t *testing.T) {
		t.Parallel()
		m := newDoor(t)

		next, err := m.Fire(ctx, closed, open, payload{})
		require.NoError(t, err)
		assert.Equal(t, opened, next)
	})

	t.Run("no transition keeps current state", func(t *testing.T) {
		t.Parallel()
		m := newDoor(t)

		next, err := m.Fire(ctx, opened, lock, payload{hasKey: true})
		require.Error(t, err)
		assert.True(t, statemachine.IsNoTransitionAvailableError(err))
		assert.Equal(t, opened, next)
	})

	t.Run("guard rejects", func(t *testing.T) {
		t.Parallel()
		m := newDoor(t)

		next, err := m.Fire(ctx, closed, lock, payload{hasKey: false})
		require.Error(t, err)
		assert.True(t, statemachine.IsTransitionRejectedError(err))
		assert.Equal(t, closed, next)
		assert.False(t, m.CanFire(ctx, closed, lock, payload{}))
		assert.True(t, m.CanFire(ctx, closed, lock, payload{hasKey: true}))
	})

	t.Run("guard branching picks first passing transition", func(t *testing.T) {
		t.Parallel()
		m := newDoor(t,
			statemachine.WithTransitionFrom([]doorState{closed, opened, locked}, opened, force,
				statemachine.WithGuard(targetIs(opened))),
			statemachine.WithTransitionFrom([]doorState{closed, opened, locked}, locked, force,
				statemachine.WithGuard(targetIs(locked))),
		)

		next, err := m.Fire(ctx, locked, force, payload{target: opened})
		require.NoError(t, err)
		assert.Equal(t, opened, next)

		next, err = m.Fire(ctx, opened, force, payload{target: locked})
		require.NoError(t, err)
		assert.Equal(t, locked, next)

		target, err := m.Target(ctx, closed, force, payload{target: locked})
		require.NoError(t, err)
		assert.Equal(t, locked, target)

		_, err = m.Fire(ctx, opened, force, payload{target: closed})
		assert.True(t, statemachine.IsTransitionRejectedError(err))
	})

	t.Run("actions run in order and failure aborts", func(t *testing.T) {
		t.Parallel()

		var calls []string
		boom := errors.New("boom")
		m := statemachine.MustNew(
			statemachine.WithTransition(closed, opened, open,
				statemachine.WithAction(func(_ context.Context, from, to doorState, _ doorEvent, _ payload) error {
					calls = append(calls, string(from)+">"+string(to))
					return nil
				}),
				statemachine.WithAction(func(context.Context, doorState, doorState, doorEvent, payload) error {
					calls = append(calls, "second")
					return boom
				}),
			),
		)

		next, err := m.Fire(ctx, closed, open, payload{})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.True(t, statemachine.IsActionError(err))
		assert.Equal(t, closed, next)
		assert.Equal(t, []string{"closed>opened", "second"}, calls)
	})
}

func TestMachineConstruction(t *testing.T) {
	t.Parallel()

	_, err := statemachine.New(statemachine.WithTransition[doorState, doorEvent, payload]("", opened, open))
	require.Error(t, err)
	assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)

	assert.Panics(t, func() {
		statemachine.MustNew(statemachine.WithTransition[doorState, doorEvent, payload](closed, opened, ""))
	})

	m := newDoor(t)
	assert.ElementsMatch(t, []doorEvent{open, lock}, m.Events(closed))
	assert.Empty(t, m.Events("missing"))
}
