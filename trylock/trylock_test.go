package trylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	busLoop Owner = iota + 1
	usbGlue
)

func TestTryLock(t *testing.T) {
	var m Mutex

	require.Equal(t, Locked, m.TryLock(busLoop))
	assert.Equal(t, WouldDeadlock, m.TryLock(busLoop))
	assert.Equal(t, WouldBlock, m.TryLock(usbGlue))
	assert.ErrorIs(t, m.Lock(busLoop), ErrDeadlock)

	m.Unlock()
	assert.Equal(t, Locked, m.TryLock(usbGlue))
	m.Unlock()
}

func TestLockWaits(t *testing.T) {
	var m Mutex
	require.NoError(t, m.Lock(usbGlue))

	var wg sync.WaitGroup
	acquired := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.Lock(busLoop))
		close(acquired)
		m.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("acquired locked mutex")
	case <-time.After(10 * time.Millisecond):
	}

	m.Unlock()
	wg.Wait()
	assert.Equal(t, Locked, m.TryLock(busLoop))
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "would deadlock", WouldDeadlock.String())
	assert.Equal(t, "unknown", Result(42).String())
}
