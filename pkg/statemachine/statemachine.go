package statemachine

import (
	"errors"
	"fmt"
	"slices"
)

// Action runs when a transition enters its target state.
// Returning an error aborts the transition.
type Action[S comparable, T any] func(subject T, from, to S) error

// Machine is an immutable transition table. It keeps no current state:
// subjects carry their own state and ask the machine for the next one, so a
// single Machine serves any number of records concurrently.
type Machine[S, E comparable, T any] struct {
	table   map[S]map[E]S
	events  []E
	onEnter map[S][]Action[S, T]
}

// Builder collects transitions and enter actions for a Machine.
type Builder[S, E comparable, T any] struct {
	m    *Machine[S, E, T]
	errs []error
}

// NewBuilder starts an empty machine definition.
func NewBuilder[S, E comparable, T any]() *Builder[S, E, T] {
	return &Builder[S, E, T]{
		m: &Machine[S, E, T]{
			table:   make(map[S]map[E]S),
			onEnter: make(map[S][]Action[S, T]),
		},
	}
}

// Permit lets event move a subject from any of the from states to the to state.
func (b *Builder[S, E, T]) Permit(event E, to S, from ...S) *Builder[S, E, T] {
	if len(from) == 0 {
		b.errs = append(b.errs, fmt.Errorf("%w: event %v has no source state", ErrInvalidDefinition, event))
		return b
	}
	if !slices.Contains(b.m.events, event) {
		b.m.events = append(b.m.events, event)
	}
	for _, f := range from {
		row, ok := b.m.table[f]
		if !ok {
			row = make(map[E]S)
			b.m.table[f] = row
		}
		if prev, ok := row[event]; ok && prev != to {
			b.errs = append(b.errs, fmt.Errorf("%w: event %v from %v leads to both %v and %v",
				ErrInvalidDefinition, event, f, prev, to))
			continue
		}
		row[event] = to
	}
	return b
}

// OnEnter registers an action run, in registration order, whenever a transition enters state.
func (b *Builder[S, E, T]) OnEnter(state S, action Action[S, T]) *Builder[S, E, T] {
	if action != nil {
		b.m.onEnter[state] = append(b.m.onEnter[state], action)
	}
	return b
}

// Build returns the machine or every definition error found.
func (b *Builder[S, E, T]) Build() (*Machine[S, E, T], error) {
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return b.m, nil
}

// MustBuild is Build for package-level tables. It panics on a bad definition.
func (b *Builder[S, E, T]) MustBuild() *Machine[S, E, T] {
	m, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build state machine: %v", err))
	}
	return m
}

// Next returns the state event leads to from the given state.
func (m *Machine[S, E, T]) Next(from S, event E) (S, error) {
	to, ok := m.table[from][event]
	if !ok {
		var zero S
		return zero, NewErrNoTransitionAvailable(fmt.Sprint(from), fmt.Sprint(event))
	}
	return to, nil
}

func (m *Machine[S, E, T]) CanFire(from S, event E) bool {
	_, ok := m.table[from][event]
	return ok
}

// Events lists the events permitted from state in definition order.
func (m *Machine[S, E, T]) Events(from S) []E {
	row := m.table[from]
	out := make([]E, 0, len(row))
	for _, ev := range m.events {
		if _, ok := row[ev]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// Fire resolves the transition and runs the enter actions of the target
// state on subject. It returns the new state; persisting it is up to the caller.
func (m *Machine[S, E, T]) Fire(subject T, from S, event E) (S, error) {
	to, err := m.Next(from, event)
	if err != nil {
		return to, err
	}
	for _, action := range m.onEnter[to] {
		if err := action(subject, from, to); err != nil {
			var zero S
			return zero, fmt.Errorf("action failed: %w", err)
		}
	}
	return to, nil
}
