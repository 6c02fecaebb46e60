package policy

import (
	"errors"
	"sync/atomic"
)

// ErrNoPolicy is returned by a Store that has never held a model.
var ErrNoPolicy = errors.New("no policy loaded")

type snapshot struct {
	model *Model
	err   error
}

// Store holds the current policy snapshot. Readers never block writers:
// a reload swaps in a whole new snapshot and in-flight evaluations keep
// the one they started with.
type Store struct {
	cur atomic.Pointer[snapshot]
}

// NewStore returns a store holding m.
func NewStore(m *Model) *Store {
	s := &Store{}
	if m == nil {
		s.cur.Store(&snapshot{err: ErrNoPolicy})
	} else {
		s.cur.Store(&snapshot{model: m})
	}
	return s
}

// Current returns the active model. While the store is broken it returns
// the error that broke it and no model.
func (s *Store) Current() (*Model, error) {
	snap := s.cur.Load()
	if snap.err != nil {
		return nil, snap.err
	}
	return snap.model, nil
}

// Swap installs m and clears any broken state.
func (s *Store) Swap(m *Model) {
	s.cur.Store(&snapshot{model: m})
}

// Fail marks the store broken. Evaluations are refused until the next
// successful Swap.
func (s *Store) Fail(err error) {
	s.cur.Store(&snapshot{err: err})
}
