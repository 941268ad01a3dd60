// ABOUTME: Stop-the-world precondition required by the collector
// ABOUTME: The embedding runtime supplies how other mutators are kept off the heap

package gc

import (
	"github.com/prateek/marksweep/fatal"
	"github.com/prateek/marksweep/thread"
)

// World states that every mutator other than the initiator has stopped
// touching the heap for the duration of a collection. The collector does
// not suspend threads itself; EnsureStopped is called once per cycle,
// before roots are enumerated, and must fail fatally if the guarantee
// does not hold.
type World interface {
	EnsureStopped(initiator *thread.Data, threads *thread.Registry)
}

// AssumeStopped trusts the embedding runtime to have parked every other
// mutator before a collection is triggered.
type AssumeStopped struct{}

func (AssumeStopped) EnsureStopped(*thread.Data, *thread.Registry) {}

// RequireNative checks that every registered thread other than the
// initiator is Native.
type RequireNative struct{}

func (RequireNative) EnsureStopped(initiator *thread.Data, threads *thread.Registry) {
	for d := range threads.Iter() {
		if d == initiator {
			continue
		}
		fatal.Assert(d.State() == thread.Native,
			"Thread %d is %s during collection. Expected: %s.", d.ID(), d.State(), thread.Native)
	}
}

// WorldFunc adapts a function to World.
type WorldFunc func(initiator *thread.Data, threads *thread.Registry)

func (f WorldFunc) EnsureStopped(initiator *thread.Data, threads *thread.Registry) {
	f(initiator, threads)
}
