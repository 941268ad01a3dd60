package gc

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateek/marksweep/heap"
	"github.com/prateek/marksweep/thread"
)

func TestPerformFullGCUsesThreadAndGlobalRoots(t *testing.T) {
	f := newFixture(t)
	r := f.allocN(t, 6)
	frame := f.main.EnterFrame(2)
	frame.Set(0, r[0])
	f.main.SetLocal("cached", r[1])
	f.globals.Register("config").Store(r[2])
	f.globals.Register("lazy").Store(heap.Initializing)
	f.link(r[2], 0, r[3])

	other := f.threads.Register()
	otherRef, err := other.Producer().Alloc(node, 0)
	require.NoError(t, err)
	other.EnterFrame(1).Set(0, otherRef)

	stats := f.ms.PerformFullGC(f.main)
	assert.Equal(t, []bool{true, true, true, true, false, false}, f.live(r...))
	assert.True(t, f.h.Contains(otherRef))
	assert.True(t, f.h.Resident(otherRef))
	assert.Equal(t, 2, stats.Reclaimed)
	assert.Equal(t, 2+1+1+2, stats.Roots)
	f.assertAllWhite(t)
	assert.Equal(t, Idle, f.ms.Phase())
}

func TestPerformFullGCPublishesPendingObjects(t *testing.T) {
	f := newFixture(t)
	garbage := f.alloc(t)
	assert.False(t, f.h.Resident(garbage))

	stats := f.ms.PerformFullGC(nil)
	assert.Equal(t, 1, stats.Reclaimed)
	assert.False(t, f.h.Contains(garbage))
}

func TestTotals(t *testing.T) {
	f := newFixture(t)
	f.allocN(t, 3)
	f.ms.PerformFullGC(f.main)
	f.alloc(t)
	last := f.ms.PerformFullGC(f.main)

	totals := f.ms.Totals()
	assert.Equal(t, uint64(2), totals.Collections)
	assert.Equal(t, uint64(4), totals.Reclaimed)
	assert.Equal(t, 4*heap.AllocSize(node, 0), totals.ReclaimedBytes)
	assert.Equal(t, last, totals.Last)
}

func TestReentrantCollectionIsFatal(t *testing.T) {
	var f *fixture
	f = newFixture(t, WithReclaimHook(func(heap.Ref, *heap.Object) {
		f.ms.PerformFullGC(nil)
	}))
	f.alloc(t)

	assert.PanicsWithError(t, "Cannot have been called during another collection", func() {
		f.ms.PerformFullGC(f.main)
	})
	assert.Equal(t, Idle, f.ms.Phase())
	assert.Equal(t, uint64(0), f.ms.Totals().Collections)
}

func TestReentrantCollectionFromWorldIsFatal(t *testing.T) {
	var f *fixture
	var phase Phase
	f = newFixture(t, WithWorld(WorldFunc(func(*thread.Data, *thread.Registry) {
		phase = f.ms.Phase()
		f.ms.PerformFullGC(nil)
	})))

	assert.PanicsWithError(t, "Cannot have been called during another collection", func() {
		f.ms.PerformFullGC(f.main)
	})
	assert.Equal(t, Marking, phase)
}

func TestRequireNativeWorld(t *testing.T) {
	f := newFixture(t, WithWorld(RequireNative{}))
	other := f.threads.Register()

	assert.PanicsWithError(t, "Thread 2 is RUNNABLE during collection. Expected: NATIVE.", func() {
		f.ms.PerformFullGC(f.main)
	})
	assert.Equal(t, Idle, f.ms.Phase())

	thread.Switch(other, thread.Native)
	assert.NotPanics(t, func() {
		f.ms.PerformFullGC(f.main)
	})

	// Without an initiator every thread must be Native.
	assert.Panics(t, func() {
		f.ms.PerformFullGC(nil)
	})
}

func TestThresholdSetters(t *testing.T) {
	f := newFixture(t, WithLogger(zerolog.Nop()))
	assert.Equal(t, DefaultConfig().Threshold, f.ms.Threshold())
	assert.Equal(t, DefaultConfig().AllocationThresholdBytes, f.ms.AllocationThresholdBytes())

	f.ms.SetThreshold(7)
	f.ms.SetAllocationThresholdBytes(64)
	assert.Equal(t, uint64(7), f.ms.Threshold())
	assert.Equal(t, uint64(64), f.ms.AllocationThresholdBytes())
}
