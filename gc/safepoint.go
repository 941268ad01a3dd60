// ABOUTME: Per-thread heuristics deciding when a collection runs
// ABOUTME: Safepoint-count, allocation-volume and out-of-memory triggers

package gc

import (
	"errors"
	"fmt"

	"github.com/prateek/marksweep/heap"
	"github.com/prateek/marksweep/thread"
)

// ThreadData is the collector state of one mutator thread. It is used only
// by the thread it belongs to.
type ThreadData struct {
	gc     *MarkAndSweep
	thread *thread.Data

	safePointsCounter uint64
	allocatedBytes    uint64
}

// NewThreadData creates the collector state of d.
func (ms *MarkAndSweep) NewThreadData(d *thread.Data) *ThreadData {
	return &ThreadData{gc: ms, thread: d}
}

// Thread returns the thread the state belongs to.
func (td *ThreadData) Thread() *thread.Data {
	return td.thread
}

// SafePoints returns the number of safepoints passed so far.
func (td *ThreadData) SafePoints() uint64 {
	return td.safePointsCounter
}

// AllocatedBytes returns the allocation volume accounted so far.
func (td *ThreadData) AllocatedBytes() uint64 {
	return td.allocatedBytes
}

func (td *ThreadData) safePoint() {
	threshold := td.gc.Threshold()
	if threshold == 0 || (td.safePointsCounter+1)%threshold == 0 {
		td.PerformFullGC()
	}
	td.safePointsCounter++
}

// SafePointFunctionEpilogue is called on function return.
func (td *ThreadData) SafePointFunctionEpilogue() {
	td.safePoint()
}

// SafePointLoopBody is called on loop back-edges.
func (td *ThreadData) SafePointLoopBody() {
	td.safePoint()
}

// SafePointExceptionUnwind is called while unwinding through a frame.
func (td *ThreadData) SafePointExceptionUnwind() {
	td.safePoint()
}

// SafePointAllocation is called before size bytes are allocated. It
// collects when the allocation crosses the end of the current accounting
// window.
func (td *ThreadData) SafePointAllocation(size uint64) {
	threshold := td.gc.AllocationThresholdBytes()
	overhead := td.allocatedBytes
	if threshold != 0 {
		overhead %= threshold
	}
	if overhead+size >= threshold {
		td.PerformFullGC()
	}
	td.allocatedBytes += size
}

// PerformFullGC runs a full collection on this thread.
func (td *ThreadData) PerformFullGC() Stats {
	return td.gc.PerformFullGC(td.thread)
}

// OnOOM is called when an allocation of size bytes failed. It collects
// once so the allocation can be retried.
func (td *ThreadData) OnOOM(size uint64) {
	td.gc.log.Debug().Uint64("thread", td.thread.ID()).Uint64("size", size).Msg("allocation failed, collecting")
	td.PerformFullGC()
}

// Allocate creates an object of type ti with n elements. It passes the
// allocation safepoint first, so every reference the caller still needs
// must already be rooted. An allocation that fails for lack of memory is
// retried once after a collection.
func (td *ThreadData) Allocate(ti *heap.TypeInfo, n int) (heap.Ref, error) {
	size := heap.AllocSize(ti, n)
	td.SafePointAllocation(size)

	r, err := td.thread.Producer().Alloc(ti, n)
	if errors.Is(err, heap.ErrOutOfMemory) {
		td.OnOOM(size)
		r, err = td.thread.Producer().Alloc(ti, n)
	}
	if err != nil {
		return heap.Nil, fmt.Errorf("allocate %s: %w", ti.Name, err)
	}
	return r, nil
}

// NewWeakReference returns the weak counter of target, creating it on
// first use. target must be rooted by the caller, since creating the
// counter may collect.
func (td *ThreadData) NewWeakReference(target heap.Ref) (heap.Ref, error) {
	h := td.gc.heap
	if extra := h.ExtraData(target); extra != nil && h.WeakReferent(extra.WeakCounter()) == target {
		return extra.WeakCounter(), nil
	}
	counter, err := td.Allocate(heap.WeakCounterType, 0)
	if err != nil {
		return heap.Nil, err
	}
	h.Object(counter).SetRef(0, target)
	*h.InstallExtraData(target).WeakCounterLocation() = counter
	return counter, nil
}
