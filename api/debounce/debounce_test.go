package debounce_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/linesmerrill/alarm-trigger-api/api/debounce"
)

const quiet = 20 * time.Millisecond

func TestScheduleCoalesces(t *testing.T) {
	m := debounce.New[string](quiet)
	defer m.Close()

	var runs int32
	var last atomic.Value
	done := make(chan struct{}, 10)

	for i := 0; i < 5; i++ {
		v := i
		assert.True(t, m.Schedule("user-1", func() {
			atomic.AddInt32(&runs, 1)
			last.Store(v)
			done <- struct{}{}
		}))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debounced action did not run")
	}
	time.Sleep(3 * quiet)

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.Equal(t, 4, last.Load())
	assert.False(t, m.IsPending("user-1"))
}

func TestScheduleKeysIndependent(t *testing.T) {
	m := debounce.New[string](quiet)
	defer m.Close()

	var wg sync.WaitGroup
	var runs int32
	wg.Add(2)
	m.Schedule("a", func() { atomic.AddInt32(&runs, 1); wg.Done() })
	m.Schedule("b", func() { atomic.AddInt32(&runs, 1); wg.Done() })

	waitOrFail(t, &wg)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
}

func TestCancel(t *testing.T) {
	m := debounce.New[int](quiet)
	defer m.Close()

	var runs int32
	m.Schedule(1, func() { atomic.AddInt32(&runs, 1) })
	assert.True(t, m.IsPending(1))

	assert.True(t, m.Cancel(1))
	assert.False(t, m.IsPending(1))
	assert.False(t, m.Cancel(1))

	time.Sleep(3 * quiet)
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))
}

func TestIsPendingLifecycle(t *testing.T) {
	m := debounce.New[string](quiet)
	defer m.Close()

	assert.False(t, m.IsPending("k"))

	ran := make(chan struct{})
	m.Schedule("k", func() { close(ran) })
	assert.True(t, m.IsPending("k"))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("debounced action did not run")
	}
	assert.False(t, m.IsPending("k"))
}

func TestCancelAllAndClose(t *testing.T) {
	m := debounce.New[string](quiet)

	var runs int32
	for _, k := range []string{"a", "b", "c"} {
		m.Schedule(k, func() { atomic.AddInt32(&runs, 1) })
	}
	assert.Equal(t, 3, m.CancelAll())
	assert.Equal(t, 0, m.CancelAll())

	m.Schedule("d", func() { atomic.AddInt32(&runs, 1) })
	m.Close()
	assert.False(t, m.IsPending("d"))
	assert.False(t, m.Schedule("e", func() { atomic.AddInt32(&runs, 1) }))

	// idempotent
	m.Close()

	time.Sleep(3 * quiet)
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))
}

func TestPanicRecovered(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	m := debounce.New[string](quiet, debounce.WithLogger(zap.New(core).Sugar()))
	defer m.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	m.Schedule("boom", func() { panic("kaboom") })
	m.Schedule("fine", func() { wg.Done() })

	waitOrFail(t, &wg)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("debounced action panicked").Len() == 1
	}, time.Second, 5*time.Millisecond)

	// the manager keeps working after a panic
	wg.Add(1)
	assert.True(t, m.Schedule("boom", func() { wg.Done() }))
	waitOrFail(t, &wg)
}

func TestRescheduleFromAction(t *testing.T) {
	m := debounce.New[string](quiet)
	defer m.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	m.Schedule("k", func() {
		wg.Done()
		m.Schedule("k", func() { wg.Done() })
	})
	waitOrFail(t, &wg)
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced actions")
	}
}
