// ABOUTME: Binding of the calling thread's record to a context
// ABOUTME: Entry points used around foreign calls operate on this binding

package thread

import (
	"context"

	"github.com/prateek/marksweep/fatal"
)

type currentKey struct{}

// WithCurrent returns a context in which d is the calling thread.
func WithCurrent(ctx context.Context, d *Data) context.Context {
	return context.WithValue(ctx, currentKey{}, d)
}

// Current returns the calling thread bound to ctx. A context without a
// registered thread is a fatal error.
func Current(ctx context.Context) *Data {
	d, _ := ctx.Value(currentKey{}).(*Data)
	fatal.Assert(d != nil, "no registered thread bound to the calling context")
	return d
}

// AssertCurrentState fails fatally unless the calling thread is in the expected state.
func AssertCurrentState(ctx context.Context, expected State) {
	AssertState(Current(ctx), expected)
}

// NewCurrentGuard is NewGuard for the calling thread.
func NewCurrentGuard(ctx context.Context, s State) Guard {
	return NewGuard(Current(ctx), s)
}

// SwitchToNative is called by foreign-call glue before leaving managed code.
func SwitchToNative(ctx context.Context) {
	Switch(Current(ctx), Native)
}

// SwitchToRunnable is called by foreign-call glue after returning to managed code.
func SwitchToRunnable(ctx context.Context) {
	Switch(Current(ctx), Runnable)
}
