package httpmw

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCatch_ReturnedErrorIsForwarded(t *testing.T) {
	rr := &recordingRenderer{}
	want := errors.New("lookup failed")
	h := Errors(rr, nil)(Catch(func(w http.ResponseWriter, r *http.Request) error {
		return want
	}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/tours/1", http.NoBody))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want renderer output", rec.Code)
	}
	if len(rr.errs) != 1 || rr.errs[0] != want {
		t.Fatalf("rendered %v", rr.errs)
	}
}

func TestCatch_SuccessWritesDirectly(t *testing.T) {
	rr := &recordingRenderer{}
	h := Errors(rr, nil)(Catch(func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusCreated)
		return nil
	}))
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/", http.NoBody))
	if rec.Code != http.StatusCreated || len(rr.errs) != 0 {
		t.Fatalf("status = %d, rendered = %v", rec.Code, rr.errs)
	}
}

func TestCatch_PanicIsForwarded(t *testing.T) {
	rr := &recordingRenderer{}
	panics := 0
	h := Errors(rr, func(*http.Request, any) { panics++ })(Catch(func(w http.ResponseWriter, r *http.Request) error {
		var m map[string]int
		m["x"] = 1
		return nil
	}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
	var pe *PanicError
	if len(rr.errs) != 1 || !errors.As(rr.errs[0], &pe) {
		t.Fatalf("rendered %v, want *PanicError", rr.errs)
	}
	if panics != 1 {
		t.Fatalf("onPanic called %d times, want 1", panics)
	}
}

func TestCatch_ErrorAfterWriteDoesNotRewrite(t *testing.T) {
	rr := &recordingRenderer{}
	h := Errors(rr, nil)(Catch(func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusOK)
		return errors.New("too late")
	}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusOK || len(rr.errs) != 0 {
		t.Fatalf("status = %d, rendered = %v", rec.Code, rr.errs)
	}
}
