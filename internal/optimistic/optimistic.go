// Package optimistic applies local edits ahead of the server and undoes them
// when the server rejects the write.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"creativehub/internal/domain"
)

// ConflictResolution picks what happens when a server event lands while a
// local patch for the same entity is outstanding.
type ConflictResolution string

const (
	ServerWins ConflictResolution = "server-wins"
	ClientWins ConflictResolution = "client-wins"
	Merge      ConflictResolution = "merge"
)

// Command is one user mutation. Apply computes the optimistic local value;
// Commit performs the server write and returns the authoritative entity.
type Command[T any] struct {
	// Name is used in user-facing messages, e.g. "update your display name".
	Name   string
	Apply  func(current T) T
	Commit func(ctx context.Context, optimistic T) (T, error)
}

// Error is returned after a failed mutation has been rolled back.
type Error struct {
	Entity  string
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// Options configure a Synchronizer.
type Options[T any] struct {
	Resolution ConflictResolution
	// MergeFunc resolves Merge conflicts. Without it Merge behaves as ServerWins.
	MergeFunc func(server, local T) T
	// Notify is called exactly once for every failed mutation.
	Notify func(*Error)
	// OnChange observes every change of the visible value.
	OnChange func(id string, value T)
}

// Synchronizer keeps the visible value of each entity and runs mutations
// one at a time per entity.
type Synchronizer[T any] struct {
	opts Options[T]

	mu       sync.Mutex
	entities map[string]*entity[T]
}

type entity[T any] struct {
	value     T
	server    T
	hasServer bool
	pending   *patch[T]
	turn      chan struct{}
	// refs counts Run calls holding or waiting for turn.
	refs int
}

type patch[T any] struct {
	apply       func(T) T
	snapshot    T
	hasSnapshot bool
}

// New builds a Synchronizer. An empty Resolution means ServerWins.
func New[T any](opts Options[T]) *Synchronizer[T] {
	if opts.Resolution == "" {
		opts.Resolution = ServerWins
	}
	return &Synchronizer[T]{opts: opts, entities: make(map[string]*entity[T])}
}

func (s *Synchronizer[T]) entityLocked(id string) *entity[T] {
	e, ok := s.entities[id]
	if !ok {
		e = &entity[T]{turn: make(chan struct{}, 1)}
		s.entities[id] = e
	}
	return e
}

// Get returns the visible value of id.
func (s *Synchronizer[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok || !e.hasServer && e.pending == nil {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Pending reports whether a mutation on id is awaiting the server.
func (s *Synchronizer[T]) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	return ok && e.pending != nil
}

// Run applies cmd to id. It waits for earlier mutations on the same entity
// to resolve first, so every mutation starts from a settled value.
func (s *Synchronizer[T]) Run(ctx context.Context, id string, cmd Command[T]) (T, error) {
	var zero T
	if cmd.Apply == nil || cmd.Commit == nil {
		return zero, fmt.Errorf("%w: command %q needs Apply and Commit", domain.ErrInvalidInput, cmd.Name)
	}

	s.mu.Lock()
	e := s.entityLocked(id)
	e.refs++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		e.refs--
		s.mu.Unlock()
	}()

	select {
	case e.turn <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-e.turn }()

	s.mu.Lock()
	snapshot := e.value
	optimistic, err := safeApply(cmd.Apply, snapshot)
	if err != nil {
		s.mu.Unlock()
		return zero, s.fail(id, cmd.Name, err, false)
	}
	e.value = optimistic
	e.pending = &patch[T]{apply: cmd.Apply, snapshot: snapshot, hasSnapshot: true}
	s.mu.Unlock()
	s.changed(id, optimistic)

	result, commitErr := cmd.Commit(ctx, optimistic)

	s.mu.Lock()
	p := e.pending
	e.pending = nil
	if commitErr == nil {
		e.value, e.server, e.hasServer = result, result, true
		s.mu.Unlock()
		s.changed(id, result)
		return result, nil
	}

	rollbackOK := p != nil && p.hasSnapshot
	if rollbackOK {
		e.value = p.snapshot
	} else {
		e.value = e.server
	}
	visible := e.value
	s.mu.Unlock()
	s.changed(id, visible)

	return zero, s.fail(id, cmd.Name, commitErr, !rollbackOK)
}

func safeApply[T any](apply func(T) T, v T) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("apply panicked: %v", r)
		}
	}()
	return apply(v), nil
}

func (s *Synchronizer[T]) fail(id, op string, cause error, rollbackFailed bool) error {
	if op == "" {
		op = "save your changes"
	}
	e := &Error{Entity: id, Op: op, Err: cause}
	if rollbackFailed {
		e.Err = errors.Join(domain.ErrRollback, cause)
		e.Message = "Something went wrong and your changes could not be restored. Please refresh."
	} else {
		e.Message = fmt.Sprintf("Could not %s. Your changes were reverted.", op)
	}
	if s.opts.Notify != nil {
		s.opts.Notify(e)
	}
	return e
}

func (s *Synchronizer[T]) changed(id string, v T) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(id, v)
	}
}

// Absorb takes a server-pushed value for id. With an outstanding patch the
// configured ConflictResolution decides the visible value, and the server
// value becomes the rollback target.
func (s *Synchronizer[T]) Absorb(id string, server T) {
	s.mu.Lock()
	e := s.entityLocked(id)
	e.server, e.hasServer = server, true

	p := e.pending
	switch {
	case p == nil:
		e.value = server
	case s.opts.Resolution == ClientWins:
		if v, err := safeApply(p.apply, server); err == nil {
			e.value = v
		} else {
			e.value = server
		}
	case s.opts.Resolution == Merge && s.opts.MergeFunc != nil:
		e.value = s.opts.MergeFunc(server, e.value)
	default:
		e.value = server
	}
	if p != nil {
		p.snapshot, p.hasSnapshot = server, true
	}
	visible := e.value
	s.mu.Unlock()
	s.changed(id, visible)
}

// Forget drops local state for id. A mutation still in flight can no longer
// be rolled back and fails with domain.ErrRollback. The entity itself is kept
// while any Run uses it, so later mutations still queue behind those.
func (s *Synchronizer[T]) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return
	}
	var zero T
	if e.pending != nil {
		e.pending.snapshot, e.pending.hasSnapshot = zero, false
		return
	}
	if e.refs > 0 {
		e.value, e.server, e.hasServer = zero, zero, false
		return
	}
	delete(s.entities, id)
}
