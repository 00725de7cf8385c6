package txengine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalGate(t *testing.T) {
	t.Run("suppresses runs within the interval", func(t *testing.T) {
		g := NewIntervalGate(time.Hour)

		runs := 0
		assert.True(t, g.Run(func() { runs++ }))
		assert.False(t, g.Run(func() { runs++ }))
		assert.Equal(t, 1, runs)
	})

	t.Run("runs again after the interval elapses", func(t *testing.T) {
		g := NewIntervalGate(20 * time.Millisecond)

		runs := 0
		assert.True(t, g.Run(func() { runs++ }))
		time.Sleep(30 * time.Millisecond)
		assert.True(t, g.Run(func() { runs++ }))
		assert.Equal(t, 2, runs)
	})

	t.Run("zero interval never suppresses", func(t *testing.T) {
		g := NewIntervalGate(0)

		runs := 0
		for i := 0; i < 5; i++ {
			assert.True(t, g.Run(func() { runs++ }))
		}
		assert.Equal(t, 5, runs)
	})

	t.Run("reset clears the gate", func(t *testing.T) {
		g := NewIntervalGate(time.Hour)

		assert.True(t, g.Run(func() {}))
		assert.False(t, g.Run(func() {}))
		g.Reset()
		assert.True(t, g.Run(func() {}))
	})

	t.Run("concurrent triggers collapse into one run", func(t *testing.T) {
		g := NewIntervalGate(time.Hour)

		var runs atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				g.Run(func() { runs.Add(1) })
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), runs.Load())
	})
}
