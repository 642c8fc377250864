// Package xerrors attaches call-site information to errors so that logs and
// development error responses can point at where a failure started.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

const maxDepth = 64

// Stacker is implemented by errors that carry a captured call stack.
type Stacker interface {
	StackPCs() []uintptr
}

type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }
func (w *withStack) IsXerrorsWrapper()   {}

// Callers captures the stack of the caller. skip=0 starts at the function
// calling Callers.
func Callers(skip int) []uintptr {
	pcs := make([]uintptr, maxDepth)
	// +2 skips runtime.Callers and Callers itself
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func withStackSkip(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &withStack{err: err, pcs: Callers(skip + 1)}
}

// WithStack records the caller's stack on err.
func WithStack(err error) error { return withStackSkip(err, 1) }

// EnsureTrace records a stack only if nothing in the chain has one already.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	if len(StackOf(err)) > 0 {
		return err
	}
	return withStackSkip(err, 1)
}

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error     { return w.err }
func (w *wrap) PC() uintptr       { return w.pc }
func (w *wrap) IsXerrorsWrapper() {}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if n := runtime.Callers(2+skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC(1)}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

func New(msg string) error             { return withStackSkip(errors.New(msg), 1) }
func Newf(f string, args ...any) error { return withStackSkip(fmt.Errorf(f, args...), 1) }

// StackOf returns the first captured stack found in err's chain, or nil.
func StackOf(err error) []uintptr {
	var s Stacker
	if errors.As(err, &s) && s != nil {
		return s.StackPCs()
	}
	return nil
}

// Stack renders the first captured stack in err's chain as
// "func\n\tfile:line" lines. Empty when no stack was captured.
func Stack(err error) string {
	return RenderPCs(StackOf(err))
}

// RenderPCs formats program counters, stopping at the runtime frames that
// start every goroutine.
func RenderPCs(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}
