// ABOUTME: Runnable/Native execution state of registered threads
// ABOUTME: Provides checked switches, assertions and scoped guards

package thread

import (
	"fmt"

	"github.com/prateek/marksweep/fatal"
)

// State tells whether a thread may touch the managed heap.
type State int32

const (
	// Runnable threads execute managed code and must be scannable.
	Runnable State = iota
	// Native threads execute foreign code and must not touch the heap.
	Native
)

func (s State) String() string {
	switch s {
	case Runnable:
		return "RUNNABLE"
	case Native:
		return "NATIVE"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Switch moves d to s and returns the previous state. Switching to the
// state the thread is already in is a fatal error.
func Switch(d *Data, s State) State {
	old := d.setState(s)
	fatal.Assert(old != s, "Illegal thread state switch. Old state: %s. New state: %s.", old, s)
	return old
}

// AssertState fails fatally unless d is in the expected state.
func AssertState(d *Data, expected State) {
	actual := d.State()
	fatal.Assert(actual == expected, "Unexpected thread state. Expected: %s. Actual: %s.", expected, actual)
}

// Guard restores a thread's previous state when released. Use it with
// defer so the state is restored on every exit path, panics included:
//
//	defer thread.NewGuard(d, thread.Native).Release()
type Guard struct {
	d   *Data
	old State
}

// NewGuard switches d to s and remembers the state it came from.
func NewGuard(d *Data, s State) Guard {
	return Guard{d: d, old: Switch(d, s)}
}

// Release switches the thread back to the remembered state.
func (g Guard) Release() {
	Switch(g.d, g.old)
}

// With runs fn with d switched to s.
func With(d *Data, s State, fn func()) {
	defer NewGuard(d, s).Release()
	fn()
}
