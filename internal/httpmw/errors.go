package httpmw

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"

	"github.com/keithlinneman/natours-api/internal/log"
	"github.com/keithlinneman/natours-api/internal/xerrors"
)

// Renderer turns an error into the single response for a request.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request, err error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(w http.ResponseWriter, r *http.Request, err error)

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request, err error) { f(w, r, err) }

// PanicError carries a value recovered from a panicking handler.
type PanicError struct {
	Value any
	pcs   []uintptr
}

func (e *PanicError) Error() string       { return fmt.Sprintf("panic: %v", e.Value) }
func (e *PanicError) StackPCs() []uintptr { return e.pcs }

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

type errState struct {
	renderer  Renderer
	onPanic   func(r *http.Request, v any)
	tw        *trackingWriter
	forwarded bool
}

type errStateKey struct{}

func stateFrom(ctx context.Context) *errState {
	s, _ := ctx.Value(errStateKey{}).(*errState)
	return s
}

// Errors installs the error channel for the rest of the pipeline. Stages
// hand failures to Forward, panics are recovered and forwarded the same way,
// and renderer writes the one response. onPanic may be nil.
func Errors(renderer Renderer, onPanic func(r *http.Request, v any)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := &errState{renderer: renderer, onPanic: onPanic, tw: &trackingWriter{ResponseWriter: w}}
			r = r.WithContext(context.WithValue(r.Context(), errStateKey{}, st))

			defer func() {
				v := recover()
				if v == nil {
					return
				}
				recovered(st.tw, r, v)
			}()

			next.ServeHTTP(st.tw, r)
		})
	}
}

// Forward hands err to the installed renderer. Nothing is written when the
// response has already started or an earlier error was forwarded for the
// same request; the failure is logged instead.
func Forward(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	ctx := r.Context()
	st := stateFrom(ctx)
	if st == nil {
		log.FromContext(ctx).Error(ctx, err, "error forwarded without an error channel")
		writeMinimal500(w)
		return
	}
	if st.forwarded || st.tw.started {
		log.FromContext(ctx).Error(ctx, err, "error after response started",
			"already_forwarded", st.forwarded,
		)
		return
	}
	st.forwarded = true
	st.renderer.Render(w, r, err)
}

// ResponseStarted reports whether anything was written for r.
func ResponseStarted(r *http.Request) bool {
	st := stateFrom(r.Context())
	return st != nil && st.tw.started
}

const minimal500 = `{"status":"error","message":"Something went very wrong!"}`

func writeMinimal500(w http.ResponseWriter) {
	h := w.Header()
	h.Del("Content-Length")
	h.Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(minimal500))
}

// WriteMinimal500 writes the fixed fallback response used when rendering
// itself fails.
func WriteMinimal500(w http.ResponseWriter) { writeMinimal500(w) }

// recovered forwards a recovered panic value. http.ErrAbortHandler is
// re-raised so net/http can drop the connection quietly.
func recovered(w http.ResponseWriter, r *http.Request, v any) {
	if v == http.ErrAbortHandler {
		panic(v)
	}
	if st := stateFrom(r.Context()); st != nil && st.onPanic != nil {
		st.onPanic(r, v)
	}
	Forward(w, r, newPanicError(v))
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, pcs: panicSite(xerrors.Callers(1))}
}

// panicSite drops the recovering frames and the runtime panic machinery so
// the stack starts where the panic was raised.
func panicSite(pcs []uintptr) []uintptr {
	cut := -1
	for i, pc := range pcs {
		fn := runtime.FuncForPC(pc - 1)
		if fn == nil {
			continue
		}
		name := fn.Name()
		if strings.HasPrefix(name, "runtime.gopanic") || strings.HasPrefix(name, "runtime.panic") || name == "runtime.sigpanic" {
			cut = i
		}
	}
	pcs = pcs[cut+1:]
	// faults raised inside the runtime (nil map write, bad index) leave
	// runtime frames above the user frame
	for len(pcs) > 0 {
		fn := runtime.FuncForPC(pcs[0] - 1)
		if fn == nil || !strings.HasPrefix(fn.Name(), "runtime.") {
			break
		}
		pcs = pcs[1:]
	}
	return pcs
}

// trackingWriter records whether the status line has been sent.
type trackingWriter struct {
	http.ResponseWriter
	started bool
}

func (tw *trackingWriter) WriteHeader(code int) {
	// 1xx informational headers do not start the response
	if code >= 200 {
		tw.started = true
	}
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *trackingWriter) Write(b []byte) (int, error) {
	tw.started = true
	return tw.ResponseWriter.Write(b)
}

func (tw *trackingWriter) Flush() {
	if f, ok := tw.ResponseWriter.(http.Flusher); ok {
		tw.started = true
		f.Flush()
	}
}

func (tw *trackingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := tw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	tw.started = true
	return h.Hijack()
}

func (tw *trackingWriter) Unwrap() http.ResponseWriter { return tw.ResponseWriter }
