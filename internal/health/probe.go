package health

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/natours-api/internal/xerrors"
)

// Probe is evaluated at request time
// nil = OK non-nil = FAIL with reason.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// OK always passes.
func OK() CheckFunc { return func(context.Context) error { return nil } }

// All passes only if every non-nil probe passes; the first failure wins.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Capacity fails while count() has reached max. max <= 0 never fails.
func Capacity(name string, count func() int, max int) CheckFunc {
	return func(context.Context) error {
		if max <= 0 {
			return nil
		}
		if n := count(); n >= max {
			return xerrors.Newf("%s at capacity (%d/%d)", name, n, max)
		}
		return nil
	}
}

// Gate flips readiness to false during drain/shutdown.
type Gate struct {
	reason atomic.Pointer[string]
}

// Close fails the probe with reason until Open is called.
func (g *Gate) Close(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.reason.Store(&reason)
}

func (g *Gate) Open() { g.reason.Store(nil) }

func (g *Gate) Probe() CheckFunc {
	return func(context.Context) error {
		if r := g.reason.Load(); r != nil {
			return xerrors.New(*r)
		}
		return nil
	}
}
