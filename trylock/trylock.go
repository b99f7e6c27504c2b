// Package trylock provides a mutex for state shared between the bus polling
// loop and other execution contexts.  The polling loop must never block or
// deadlock on it, so acquiring the mutex again from the context that already
// holds it is refused instead of waited on.
package trylock

import (
	"errors"
	"sync"
	"sync/atomic"
)

var ErrDeadlock = errors.New("mutex already held by this owner")

// Owner identifies an execution context, e.g. the bus loop or the USB glue.
// The zero Owner is reserved and must not be used.
type Owner uint32

// Result of a TryLock.
type Result uint8

const (
	Locked        Result = iota // the mutex was acquired
	WouldBlock                  // held by another owner, retry later
	WouldDeadlock               // held by the calling owner
)

func (r Result) String() string {
	switch r {
	case Locked:
		return "locked"
	case WouldBlock:
		return "would block"
	case WouldDeadlock:
		return "would deadlock"
	}
	return "unknown"
}

// Mutex is a mutual exclusion lock which remembers its owner.  The zero value
// is an unlocked mutex.
type Mutex struct {
	mu    sync.Mutex
	owner atomic.Uint32
}

// Lock blocks until the mutex is acquired by o.  If o already holds the
// mutex, Lock returns ErrDeadlock immediately.
func (m *Mutex) Lock(o Owner) error {
	if m.owner.Load() == uint32(o) {
		return ErrDeadlock
	}
	m.mu.Lock()
	m.owner.Store(uint32(o))
	return nil
}

// TryLock acquires the mutex for o if that is possible without blocking.
func (m *Mutex) TryLock(o Owner) Result {
	if m.owner.Load() == uint32(o) {
		return WouldDeadlock
	}
	if !m.mu.TryLock() {
		return WouldBlock
	}
	m.owner.Store(uint32(o))
	return Locked
}

// Unlock releases the mutex.  It is a run-time error if m is not locked.
func (m *Mutex) Unlock() {
	m.owner.Store(0)
	m.mu.Unlock()
}
