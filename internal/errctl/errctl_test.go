package errctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/keithlinneman/natours-api/internal/apperr"
	"github.com/keithlinneman/natours-api/internal/log"
)

type loggedError struct {
	msg string
	err error
}

// spyLogger records Error calls.
type spyLogger struct {
	log.Logger
	errors []loggedError
}

func (s *spyLogger) With(...any) log.Logger { return s }
func (s *spyLogger) Error(_ context.Context, err error, msg string, _ ...any) {
	s.errors = append(s.errors, loggedError{msg: msg, err: err})
}

func newSpy() *spyLogger { return &spyLogger{Logger: log.Nop()} }

func render(t *testing.T, c *Controller, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Render(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tours/xyz", http.NoBody), err)
	var body map[string]any
	if jerr := json.Unmarshal(rec.Body.Bytes(), &body); jerr != nil {
		t.Fatalf("body is not JSON: %v\n%s", jerr, rec.Body.String())
	}
	return rec, body
}

func TestRender_ProductionOperational(t *testing.T) {
	c := New(Options{Mode: ModeProduction})
	rec, body := render(t, c, apperr.New("No tour found with that ID", http.StatusNotFound))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "fail" || body["message"] != "No tour found with that ID" {
		t.Fatalf("body = %v", body)
	}
	if len(body) != 2 {
		t.Fatalf("production body has extra fields: %v", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestRender_ProductionUnclassifiedIsGeneric(t *testing.T) {
	spy := newSpy()
	c := New(Options{Mode: ModeProduction, Logger: spy})
	secret := errors.New("dial tcp 10.0.3.7:27017: connection refused")
	rec, body := render(t, c, secret)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "error" || body["message"] != GenericMessage {
		t.Fatalf("body = %v", body)
	}
	if strings.Contains(rec.Body.String(), "10.0.3.7") {
		t.Fatal("internal detail leaked in production")
	}
	if len(spy.errors) != 1 || spy.errors[0].err != secret {
		t.Fatalf("unclassified error not logged: %+v", spy.errors)
	}
}

func TestRender_ProductionClassified(t *testing.T) {
	c := New(Options{Mode: ModeProduction})
	rec, body := render(t, c, &apperr.CastError{Path: "_id", Value: "wwwww"})
	if rec.Code != http.StatusBadRequest || body["message"] != "Invalid _id: wwwww." || body["status"] != "fail" {
		t.Fatalf("got %d %v", rec.Code, body)
	}
}

func TestRender_ProductionNotFoundAndRateLimit(t *testing.T) {
	c := New(Options{Mode: ModeProduction})

	rec, body := render(t, c, apperr.NotFound("/api/v1/nope"))
	if rec.Code != 404 || body["message"] != "Can't find /api/v1/nope on this server!" {
		t.Fatalf("404 envelope = %d %v", rec.Code, body)
	}

	rec, body = render(t, c, apperr.New("Too many requests from this IP, please try again in an hour!", http.StatusTooManyRequests))
	if rec.Code != 429 || body["status"] != "fail" {
		t.Fatalf("429 envelope = %d %v", rec.Code, body)
	}
}

func TestRender_DevelopmentDetail(t *testing.T) {
	c := New(Options{Mode: ModeDevelopment})
	err := fmt.Errorf("load tour: %w", apperr.New("No tour found with that ID", http.StatusNotFound))
	rec, body := render(t, c, err)

	if rec.Code != http.StatusNotFound || body["status"] != "fail" {
		t.Fatalf("got %d %v", rec.Code, body)
	}
	detail, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("development body has no error detail: %v", body)
	}
	if detail["isOperational"] != true || detail["kind"] != "operational" || detail["statusCode"] != float64(404) {
		t.Fatalf("detail = %v", detail)
	}
	if chain, _ := detail["chain"].([]any); len(chain) != 2 {
		t.Fatalf("chain = %v", detail["chain"])
	}
	if stack, _ := body["stack"].(string); !strings.Contains(stack, "TestRender_DevelopmentDetail") {
		t.Fatalf("stack = %q", stack)
	}
}

func TestRender_DevelopmentUnclassifiedShowsMessage(t *testing.T) {
	c := New(Options{Mode: ModeDevelopment})
	rec, body := render(t, c, errors.New("nil pointer in tour stats"))

	if rec.Code != 500 || body["message"] != "nil pointer in tour stats" {
		t.Fatalf("got %d %v", rec.Code, body)
	}
	if detail := body["error"].(map[string]any); detail["isOperational"] != false || detail["kind"] != "unclassified" {
		t.Fatalf("detail = %v", detail)
	}
}

func TestNew_UnknownModeIsProduction(t *testing.T) {
	c := New(Options{Mode: "staging"})
	_, body := render(t, c, errors.New("boom"))
	if body["message"] != GenericMessage {
		t.Fatalf("unknown mode leaked detail: %v", body)
	}
}

// panickyError blows up when asked for its message.
type panickyError struct{}

func (panickyError) Error() string { panic("Error() exploded") }

func TestRender_NeverPanics(t *testing.T) {
	spy := newSpy()
	c := New(Options{Mode: ModeDevelopment, Logger: spy})
	rec := httptest.NewRecorder()
	c.Render(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody), panickyError{})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), GenericMessage) {
		t.Fatalf("body = %q, want minimal 500", rec.Body.String())
	}
	if len(spy.errors) == 0 || spy.errors[len(spy.errors)-1].msg != "error controller failed" {
		t.Fatalf("controller failure not logged: %+v", spy.errors)
	}
}

func TestRender_OnRenderedHook(t *testing.T) {
	var gotKind apperr.Kind
	var gotStatus int
	c := New(Options{OnRendered: func(k apperr.Kind, s int) { gotKind, gotStatus = k, s }})
	render(t, c, &apperr.DuplicateKeyError{Field: "name", Value: "x"})
	if gotKind != apperr.KindDuplicateKey || gotStatus != 400 {
		t.Fatalf("hook got %v/%d", gotKind, gotStatus)
	}
}

func TestRender_RecordsOnSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "request")
	c := New(Options{})
	c.Render(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(ctx), errors.New("boom"))
	span.End()

	s := sr.Ended()[0]
	if s.Status().Code != otelcodes.Error {
		t.Fatalf("span status = %v", s.Status())
	}
	if len(s.Events()) == 0 || s.Events()[0].Name != "exception" {
		t.Fatalf("error not recorded on span: %v", s.Events())
	}
}
