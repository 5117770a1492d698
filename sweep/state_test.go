package sweep

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState(t *testing.T) {
	s := NewState()
	assert.Equal(t, NotStarted, s.Phase())

	assert.True(t, s.TryStart())
	assert.Equal(t, Running, s.Phase())
	assert.False(t, s.TryStart(), "cannot start twice")

	s.Abort()
	assert.Equal(t, NotStarted, s.Phase())

	assert.True(t, s.TryStart())
	s.Finish()
	assert.Equal(t, Done, s.Phase())
	assert.False(t, s.TryStart(), "cannot start once done")

	s.Abort()
	assert.Equal(t, Done, s.Phase(), "abort only applies to a running sweep")

	s.Reset()
	assert.Equal(t, NotStarted, s.Phase())
}

func TestState_ConcurrentStart(t *testing.T) {
	var s State
	var started atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryStart() {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), started.Load())
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "not started", NotStarted.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "unknown", Phase(9).String())
}
