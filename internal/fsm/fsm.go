// Package fsm provides a small, strict finite-state-machine runner used to
// enforce the file status state machine: unknown transitions are errors,
// not silently-applied no-ops.
package fsm

import (
	"context"
	"fmt"
	"sync"
)

// Transition describes one edge. Guard may reject the transition before any
// state change is observable; Action performs the side effect (typically a
// store write) that must succeed before the in-memory state advances.
type Transition[S ~string, E ~string] struct {
	From   S
	Event  E
	To     S
	Guard  func(ctx context.Context, from S, event E) error
	Action func(ctx context.Context, from S, to S, event E) error
}

// Machine is a strict FSM runner: Fire on an (state, event) pair with no
// registered transition returns an error instead of a no-op.
type Machine[S ~string, E ~string] struct {
	mu    sync.Mutex
	state S
	index map[string]Transition[S, E]
}

func New[S ~string, E ~string](initial S, transitions []Transition[S, E]) (*Machine[S, E], error) {
	idx := make(map[string]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("fsm: duplicate transition %s -> %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &Machine[S, E]{state: initial, index: idx}, nil
}

func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire attempts to apply event to the current state. Guard and Action run
// outside the state lock so a slow store write does not block State() reads.
func (m *Machine[S, E]) Fire(ctx context.Context, event E) (S, error) {
	m.mu.Lock()
	from := m.state
	t, ok := m.index[key(from, event)]
	m.mu.Unlock()
	if !ok {
		return from, fmt.Errorf("fsm: invalid transition: state=%s event=%s", from, event)
	}

	to := t.To
	if t.Guard != nil {
		if err := t.Guard(ctx, from, event); err != nil {
			return from, err
		}
	}
	if t.Action != nil {
		if err := t.Action(ctx, from, to, event); err != nil {
			return from, err
		}
	}

	m.mu.Lock()
	if m.state != from {
		cur := m.state
		m.mu.Unlock()
		return cur, fmt.Errorf("fsm: concurrent transition detected: from=%s cur=%s event=%s", from, cur, event)
	}
	m.state = to
	m.mu.Unlock()
	return to, nil
}

// CanFire reports whether a transition is registered for (state, event)
// without executing Guard/Action.
func (m *Machine[S, E]) CanFire(event E) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.index[key(m.state, event)]
	return ok
}

// Allows reports whether a transition is registered for (from, event),
// independent of the machine's current state. Useful when the same
// registered transition table governs many independent entities (e.g. one
// row per database record) rather than a single in-memory state.
func (m *Machine[S, E]) Allows(from S, event E) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.index[key(from, event)]
	return ok
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
