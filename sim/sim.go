// ABOUTME: Mutator workload simulator driving the collector from several goroutines
// ABOUTME: Mutators build and drop linked lists and pass every kind of safepoint

// Package sim runs synthetic mutators against a marksweep.Memory. Mutators
// share a world lock: a mutator holds it only while Runnable and switches
// to Native before releasing it, so whenever a heuristic collects, every
// other registered thread is Native.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/prateek/marksweep"
	"github.com/prateek/marksweep/heap"
	"github.com/prateek/marksweep/thread"
)

var (
	// ErrInvalidWorkload is returned for a workload without mutators, steps or slots
	ErrInvalidWorkload = errors.New("sim: invalid workload")
)

// Node is the list cell mutators allocate: a next reference and a payload word.
var Node = heap.RecordType("SimNode", 2, 0)

// Workload parameterises a run.
type Workload struct {
	Mutators int
	// Steps is the number of steps each mutator takes.
	Steps int
	Seed  int64
	// Slots is the number of list heads each mutator keeps in its frame.
	Slots int
	// ListLength is the number of nodes allocated per step.
	ListLength int
}

// DefaultWorkload returns a small workload.
func DefaultWorkload() Workload {
	return Workload{Mutators: 4, Steps: 200, Seed: 1, Slots: 8, ListLength: 16}
}

// MutatorReport summarises one mutator.
type MutatorReport struct {
	Thread      uint64
	Allocations int
	SafePoints  uint64
	Allocated   uint64
}

// Report summarises a run. Totals cover every collection of the run,
// including the final one; LiveObjects is counted after it.
type Report struct {
	Mutators       []MutatorReport
	Allocations    int
	Collections    uint64
	Reclaimed      uint64
	ReclaimedBytes uint64
	LiveObjects    int
	LiveBytes      uint64
}

// Run executes w against mem and collects once more at the end. Each
// mutator leaves its longest-lived list in a global named after it.
func Run(ctx context.Context, mem *marksweep.Memory, w Workload) (Report, error) {
	if w.Mutators <= 0 || w.Steps <= 0 || w.Slots <= 0 || w.ListLength < 0 {
		return Report{}, fmt.Errorf("%w: %+v", ErrInvalidWorkload, w)
	}
	var world sync.Mutex
	reports := make([]MutatorReport, w.Mutators)

	g, ctx := errgroup.WithContext(ctx)
	for i := range w.Mutators {
		g.Go(func() error {
			m := &mutator{mem: mem, world: &world, w: w, rng: rand.New(rand.NewSource(w.Seed + int64(i)))}
			err := m.run(ctx, i)
			reports[i] = m.report
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	world.Lock()
	mem.GC().PerformFullGC(nil)
	world.Unlock()

	totals := mem.GC().Totals()
	stats := mem.Heap().Stats()
	allocations := lo.SumBy(reports, func(r MutatorReport) int {
		return r.Allocations
	})
	return Report{
		Mutators:       reports,
		Allocations:    allocations,
		Collections:    totals.Collections,
		Reclaimed:      totals.Reclaimed,
		ReclaimedBytes: totals.ReclaimedBytes,
		LiveObjects:    stats.Resident,
		LiveBytes:      stats.UsedBytes,
	}, nil
}

type mutator struct {
	mem    *marksweep.Memory
	world  *sync.Mutex
	w      Workload
	rng    *rand.Rand
	td     *marksweep.ThreadData
	frame  *thread.Frame
	report MutatorReport
}

func (m *mutator) run(ctx context.Context, index int) error {
	m.world.Lock()
	m.td = m.mem.RegisterThread()
	ctx = m.td.Bind(ctx)
	m.frame = m.td.Thread.EnterFrame(m.w.Slots)
	thread.SwitchToNative(ctx)
	m.world.Unlock()

	defer func() {
		m.world.Lock()
		defer m.world.Unlock()
		m.report.Thread = m.td.Thread.ID()
		m.report.SafePoints = m.td.GC.SafePoints()
		m.report.Allocated = m.td.GC.AllocatedBytes()
		m.mem.UnregisterThread(m.td)
	}()

	for range m.w.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.locked(ctx, m.step); err != nil {
			return fmt.Errorf("mutator %d: %w", index, err)
		}
	}

	return m.locked(ctx, func(context.Context) error {
		keep := m.mem.Globals().Register(fmt.Sprintf("mutator-%d", index))
		keep.Store(m.longest())
		return nil
	})
}

// locked runs fn as Runnable while holding the world lock.
func (m *mutator) locked(ctx context.Context, fn func(context.Context) error) error {
	m.world.Lock()
	defer m.world.Unlock()
	defer thread.NewCurrentGuard(ctx, thread.Runnable).Release()
	return fn(ctx)
}

func (m *mutator) alloc() (heap.Ref, error) {
	r, err := m.td.GC.Allocate(Node, 0)
	if err == nil {
		m.report.Allocations++
	}
	return r, err
}

// step replaces a random list head with a fresh list, sometimes drops one,
// sometimes unwinds through a scratch frame and sometimes takes a weak
// reference to a head.
func (m *mutator) step(ctx context.Context) error {
	thread.AssertCurrentState(ctx, thread.Runnable)
	gc := m.td.GC
	slot := m.rng.Intn(m.frame.Len())

	m.frame.Set(slot, heap.Nil)
	for i := range m.w.ListLength {
		n, err := m.alloc()
		if err != nil {
			return err
		}
		obj := m.mem.Heap().Object(n)
		obj.SetRef(0, m.frame.Get(slot))
		obj.Words[1] = heap.Word(i)
		m.frame.Set(slot, n)
		gc.SafePointLoopBody()
	}

	switch m.rng.Intn(4) {
	case 0:
		m.frame.Set(m.rng.Intn(m.frame.Len()), heap.Nil)
	case 1:
		scratch := m.td.Thread.EnterFrame(1)
		r, err := m.alloc()
		if err != nil {
			return err
		}
		scratch.Set(0, r)
		gc.SafePointExceptionUnwind()
		m.td.Thread.LeaveFrame(scratch)
	case 2:
		if head := m.frame.Get(slot); head.Valid() {
			weak, err := gc.NewWeakReference(head)
			if err != nil {
				return err
			}
			m.td.Thread.SetLocal("weak", weak)
		}
	}

	gc.SafePointFunctionEpilogue()
	return nil
}

// longest returns the head of the longest list in the frame.
func (m *mutator) longest() heap.Ref {
	h := m.mem.Heap()
	length := func(r heap.Ref) int {
		n := 0
		for ; r.Valid(); r = h.Object(r).Ref(0) {
			n++
		}
		return n
	}
	return lo.MaxBy(m.frame.Slots(), func(a, b heap.Ref) bool {
		return length(a) > length(b)
	})
}
