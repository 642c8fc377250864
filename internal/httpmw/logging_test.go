package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/keithlinneman/natours-api/internal/log"
)

type capturedLog struct {
	msg    string
	fields []any
}

// flatLogger captures With() and Info() calls. With returns the receiver so
// everything lands in one place.
type flatLogger struct {
	mu    sync.Mutex
	infos []capturedLog
	withs [][]any
}

func (l *flatLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withs = append(l.withs, kv)
	return l
}

func (l *flatLogger) Info(_ context.Context, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, capturedLog{msg: msg, fields: kv})
}

func (l *flatLogger) Debug(context.Context, string, ...any)        {}
func (l *flatLogger) Warn(context.Context, string, ...any)         {}
func (l *flatLogger) Error(context.Context, error, string, ...any) {}
func (l *flatLogger) Sync() error                                  { return nil }

func field(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			return kv[i+1], true
		}
	}
	return nil, false
}

func TestWithLogger_AttachesRequestFields(t *testing.T) {
	fl := &flatLogger{}
	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.FromContext(r.Context()).Info(r.Context(), "inside")
		}),
		RequestID(""),
		ClientIP,
		WithLogger(fl),
	)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tours?sort=price", http.NoBody)
	req.RemoteAddr = "203.0.113.5:4000"
	serve(h, req)

	if len(fl.withs) != 1 {
		t.Fatalf("With called %d times", len(fl.withs))
	}
	kv := fl.withs[0]
	if v, _ := field(kv, "client.address"); v != "203.0.113.5" {
		t.Fatalf("client.address = %v", v)
	}
	if v, _ := field(kv, "url.query"); v != "sort=price" {
		t.Fatalf("url.query = %v", v)
	}
	if v, _ := field(kv, "request_id"); v == "" {
		t.Fatal("request_id missing")
	}
	if len(fl.infos) != 1 || fl.infos[0].msg != "inside" {
		t.Fatalf("infos = %+v", fl.infos)
	}
}

func TestAccessLog_DevFormat(t *testing.T) {
	fl := &flatLogger{}
	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("12345"))
		}),
		WithLogger(fl),
		AccessLog,
	)
	serve(h, httptest.NewRequest(http.MethodPost, "/api/v1/tours?x=1", http.NoBody))

	if len(fl.infos) != 1 {
		t.Fatalf("logged %d lines, want 1", len(fl.infos))
	}
	line := fl.infos[0]
	if !strings.HasPrefix(line.msg, "POST /api/v1/tours?x=1 201 ") || !strings.HasSuffix(line.msg, " ms - 5") {
		t.Fatalf("msg = %q", line.msg)
	}
	if v, _ := field(line.fields, "http.response.status_code"); v != http.StatusCreated {
		t.Fatalf("status field = %v", v)
	}
}

func TestAccessLog_EmptyBodyDash(t *testing.T) {
	fl := &flatLogger{}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), WithLogger(fl), AccessLog)
	serve(h, httptest.NewRequest(http.MethodDelete, "/api/v1/tours/1", http.NoBody))
	if !strings.HasSuffix(fl.infos[0].msg, " ms - -") {
		t.Fatalf("msg = %q", fl.infos[0].msg)
	}
}

func TestScope_TagsHandler(t *testing.T) {
	fl := &flatLogger{}
	h := Chain(http.NotFoundHandler(), WithLogger(fl), Scope("tours.getAll"))
	serve(h, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	last := fl.withs[len(fl.withs)-1]
	if v, _ := field(last, "handler"); v != "tours.getAll" {
		t.Fatalf("handler field = %v", v)
	}
}

func TestSchemeFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if got := Scheme(r); got != "http" {
		t.Fatalf("scheme = %q", got)
	}
	r.Header.Set("X-Forwarded-Proto", "https, http")
	if got := Scheme(r); got != "https" {
		t.Fatalf("scheme = %q", got)
	}
}
