// ABOUTME: Runtime invariant assertions for the memory manager
// ABOUTME: A failed assertion is logged and then aborts the goroutine with a panic

// Package fatal reports broken runtime invariants. These are contract
// violations, not expected conditions: nothing in this module recovers them,
// so an assertion failure terminates the process after it has been logged.
package fatal

import (
	"fmt"

	"github.com/prateek/marksweep/infra"
)

// Error is the panic value raised by a failed assertion.
type Error struct {
	Msg string
}

func (e *Error) Error() string {
	return e.Msg
}

// Assert fails with the formatted message unless cond holds.
func Assert(cond bool, format string, args ...any) {
	if cond {
		return
	}
	Fail(format, args...)
}

// Fail logs the formatted message and panics with an *Error.
func Fail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	infra.Logger.Error().Str("invariant", msg).Msg("runtime assertion failed")
	panic(&Error{Msg: msg})
}
