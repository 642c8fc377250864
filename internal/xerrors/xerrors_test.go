package xerrors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

func stackContains(pcs []uintptr, substr string) bool {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.Contains(fr.Function, substr) {
			return true
		}
		if !more {
			break
		}
	}
	return false
}

func TestNew_ErrorMessage(t *testing.T) {
	err := New("something broke")
	if err.Error() != "something broke" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestNew_StackStartsAtCaller(t *testing.T) {
	err := New("boom")

	pcs := StackOf(err)
	if len(pcs) == 0 {
		t.Fatal("stack should be non-empty")
	}
	fr, _ := runtime.CallersFrames(pcs).Next()
	if !strings.Contains(fr.Function, "TestNew_StackStartsAtCaller") {
		t.Fatalf("first frame = %q, want test function", fr.Function)
	}
}

func TestNewf_FormatsMessage(t *testing.T) {
	err := Newf("invalid port %d for %s", 99999, "server")
	want := "invalid port 99999 for server"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWithStack_NilReturnsNil(t *testing.T) {
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should return nil")
	}
}

func TestWithStack_Unwraps(t *testing.T) {
	err := WithStack(errSentinel)
	if !errors.Is(err, errSentinel) {
		t.Fatal("errors.Is should find sentinel")
	}
	if !stackContains(StackOf(err), "TestWithStack_Unwraps") {
		t.Fatal("stack should contain calling function")
	}
}

func TestWrap_ErrorMessage(t *testing.T) {
	err := Wrap(errSentinel, "loading tours")
	if err.Error() != "loading tours: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("errors.Is should find sentinel")
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Fatal("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Fatal("Wrapf(nil) should return nil")
	}
}

func TestWrapf_HasPC(t *testing.T) {
	err := Wrapf(errSentinel, "op %d", 7)

	var hp interface{ PC() uintptr }
	if !errors.As(err, &hp) {
		t.Fatal("Wrapf error should expose PC")
	}
	if hp.PC() == 0 {
		t.Fatal("PC should be non-zero")
	}
}

func TestEnsureTrace_AddsStackToPlainError(t *testing.T) {
	err := EnsureTrace(errSentinel)
	if len(StackOf(err)) == 0 {
		t.Fatal("EnsureTrace should add a stack")
	}
}

func TestEnsureTrace_Idempotent(t *testing.T) {
	first := New("x")
	if got := EnsureTrace(first); got != first {
		t.Fatal("EnsureTrace should return stacked errors unchanged")
	}
}

func TestEnsureTrace_FindsStackThroughWrapping(t *testing.T) {
	inner := New("inner")
	outer := fmt.Errorf("outer: %w", inner)
	if got := EnsureTrace(outer); got != outer {
		t.Fatal("EnsureTrace should see a stack deeper in the chain")
	}
}

func TestStack_RendersFrames(t *testing.T) {
	s := Stack(New("boom"))
	if !strings.Contains(s, "TestStack_RendersFrames") {
		t.Fatalf("stack = %q, want test function", s)
	}
	if !strings.Contains(s, "xerrors_test.go:") {
		t.Fatalf("stack = %q, want file:line", s)
	}
}

func TestStack_EmptyWithoutCapture(t *testing.T) {
	if s := Stack(errSentinel); s != "" {
		t.Fatalf("Stack(plain) = %q, want empty", s)
	}
	if s := RenderPCs(nil); s != "" {
		t.Fatalf("RenderPCs(nil) = %q, want empty", s)
	}
}

func TestCallers_ContainsCaller(t *testing.T) {
	if !stackContains(Callers(0), "TestCallers_ContainsCaller") {
		t.Fatal("Callers(0) should include the calling test")
	}
}
