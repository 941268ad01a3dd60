// ABOUTME: Per-thread record owned by the registry
// ABOUTME: Holds the thread state, allocation front end, shadow stack and thread locals

package thread

import (
	"iter"
	"slices"
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/prateek/marksweep/fatal"
	"github.com/prateek/marksweep/heap"
)

// Data is the record of one registered thread. Apart from the state, its
// fields belong to the owning thread; a collector may read them only once
// the thread has published and stopped touching the heap.
type Data struct {
	id       uint64
	state    atomic.Int32
	producer *heap.Producer
	frames   []*Frame
	locals   map[string]heap.Ref
}

func newData(id uint64, producer *heap.Producer) *Data {
	return &Data{
		id:       id,
		producer: producer,
		locals:   make(map[string]heap.Ref),
	}
}

// ID returns the registry-assigned identifier of the thread.
func (d *Data) ID() uint64 {
	return d.id
}

// State returns the current state of the thread.
func (d *Data) State() State {
	return State(d.state.Load())
}

func (d *Data) setState(s State) State {
	return State(d.state.Swap(int32(s)))
}

// Producer returns the thread's allocation front end.
func (d *Data) Producer() *heap.Producer {
	return d.producer
}

// Publish makes the thread's pending allocations visible to the collector.
func (d *Data) Publish() {
	d.producer.Publish()
}

// Frame is a block of root slots on the thread's shadow stack.
type Frame struct {
	slots []heap.Ref
}

func (f *Frame) Len() int {
	return len(f.slots)
}

func (f *Frame) Get(i int) heap.Ref {
	return f.slots[i]
}

func (f *Frame) Set(i int, r heap.Ref) {
	f.slots[i] = r
}

// Slots returns the frame's slots. The slice aliases the frame.
func (f *Frame) Slots() []heap.Ref {
	return f.slots
}

// EnterFrame pushes a frame of size nil slots.
func (d *Data) EnterFrame(size int) *Frame {
	f := &Frame{slots: make([]heap.Ref, size)}
	d.frames = append(d.frames, f)
	return f
}

// LeaveFrame pops f, which must be the innermost frame.
func (d *Data) LeaveFrame(f *Frame) {
	n := len(d.frames)
	fatal.Assert(n > 0 && d.frames[n-1] == f, "thread %d: leaving a frame that is not the innermost one", d.id)
	d.frames[n-1] = nil
	d.frames = d.frames[:n-1]
}

// Frames yields the frames from outermost to innermost.
func (d *Data) Frames() iter.Seq[*Frame] {
	return func(yield func(*Frame) bool) {
		for _, f := range d.frames {
			if !yield(f) {
				return
			}
		}
	}
}

// SetLocal stores a thread-local reference under name.
func (d *Data) SetLocal(name string, r heap.Ref) {
	d.locals[name] = r
}

// Local returns the thread-local reference stored under name.
func (d *Data) Local(name string) heap.Ref {
	return d.locals[name]
}

// DeleteLocal forgets a thread-local reference.
func (d *Data) DeleteLocal(name string) {
	delete(d.locals, name)
}

// Locals yields thread-local references ordered by name.
func (d *Data) Locals() iter.Seq2[string, heap.Ref] {
	return func(yield func(string, heap.Ref) bool) {
		names := lo.Keys(d.locals)
		slices.Sort(names)
		for _, name := range names {
			if !yield(name, d.locals[name]) {
				return
			}
		}
	}
}
