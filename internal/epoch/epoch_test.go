package epoch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_EnterExit(t *testing.T) {
	tr := New(2)

	assert.True(t, tr.Enter(0))
	assert.True(t, tr.Busy(0))
	assert.False(t, tr.Enter(0), "a busy unit cannot be entered again")
	assert.True(t, tr.Enter(1), "units are independent")

	tr.Exit(0)
	assert.False(t, tr.Busy(0))
	assert.True(t, tr.Enter(0))
	tr.Exit(0)
	tr.Exit(1)
}

func TestTracker_OutOfRange(t *testing.T) {
	tr := New(1)
	assert.False(t, tr.Enter(-1))
	assert.False(t, tr.Enter(1))
	assert.False(t, tr.Busy(5))
}

func TestTracker_MinimumOneUnit(t *testing.T) {
	assert.Equal(t, 1, New(0).Units())
}

func TestTracker_WaitIdle(t *testing.T) {
	tr := New(4)
	done := make(chan struct{})
	go func() {
		tr.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait on an idle tracker must return immediately")
	}
}

func TestTracker_WaitBlocksOnInFlight(t *testing.T) {
	tr := New(2)
	assert.True(t, tr.Enter(1))

	var returned sync.WaitGroup
	returned.Add(1)
	waitDone := make(chan struct{})
	go func() {
		defer returned.Done()
		tr.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		t.Fatal("Wait returned while unit 1 was still in flight")
	case <-time.After(30 * time.Millisecond):
	}

	tr.Exit(1)
	returned.Wait()
}

func TestTracker_WaitIgnoresLaterSections(t *testing.T) {
	tr := New(1)
	assert.True(t, tr.Enter(0))
	tr.Exit(0)

	// A section entered after the snapshot does not delay Wait; here the
	// unit re-enters and exits while Wait runs.
	go func() {
		if tr.Enter(0) {
			tr.Exit(0)
		}
	}()
	tr.Wait()
}
