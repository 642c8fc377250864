package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/lib/pq"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestStatusClass(t *testing.T) {
	cases := map[int]string{
		400: StatusFail,
		404: StatusFail,
		429: StatusFail,
		499: StatusFail,
		500: StatusError,
		503: StatusError,
		302: StatusError,
	}
	for code, want := range cases {
		if got := StatusClass(code); got != want {
			t.Errorf("StatusClass(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestNew_Fields(t *testing.T) {
	err := New("No tour found with that ID", http.StatusNotFound)
	if err.Message() != "No tour found with that ID" {
		t.Fatalf("Message() = %q", err.Message())
	}
	if err.StatusCode() != 404 || err.Status() != StatusFail {
		t.Fatalf("got %d/%q, want 404/fail", err.StatusCode(), err.Status())
	}
	if !err.IsOperational() {
		t.Fatal("IsOperational() = false")
	}
	if len(err.StackPCs()) == 0 {
		t.Fatal("stack should be captured at construction")
	}
}

func TestNew_OutOfRangeStatusBecomes500(t *testing.T) {
	for _, code := range []int{0, 99, 600, -1} {
		err := New("x", code)
		if err.StatusCode() != 500 || err.Status() != StatusError {
			t.Errorf("New(_, %d) = %d/%q, want 500/error", code, err.StatusCode(), err.Status())
		}
	}
}

func TestNotFound_Message(t *testing.T) {
	err := NotFound("/api/v1/nope?x=1")
	want := "Can't find /api/v1/nope?x=1 on this server!"
	if err.Message() != want {
		t.Fatalf("Message() = %q, want %q", err.Message(), want)
	}
	if err.StatusCode() != 404 {
		t.Fatalf("StatusCode() = %d", err.StatusCode())
	}
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("smtp: connection refused")
	err := Wrap(cause, "There was an error sending the email. Try again later!", 500)
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should find cause")
	}
	if strings.Contains(err.Error(), "smtp") {
		t.Fatalf("Error() leaks cause: %q", err.Error())
	}
}

func TestAsOperational_ThroughWrapping(t *testing.T) {
	op := New("gone", 410)
	wrapped := fmt.Errorf("handler: %w", op)
	got, ok := AsOperational(wrapped)
	if !ok || got != op {
		t.Fatal("AsOperational should find the wrapped error")
	}
	if _, ok := AsOperational(errors.New("plain")); ok {
		t.Fatal("plain error reported as operational")
	}
}

func TestValidationError_ErrNilWhenEmpty(t *testing.T) {
	v := &ValidationError{}
	if v.Err() != nil {
		t.Fatal("empty ValidationError.Err() should be nil")
	}
	v.Add("name", "A tour must have a name").Add("price", "A tour must have a price")
	if v.Err() == nil {
		t.Fatal("Err() should be non-nil after Add")
	}
}

func TestClassify(t *testing.T) {
	mongoDup := &mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: `E11000 duplicate key error collection: natours.tours index: name_1 dup key: { name: "The Forest Hiker" }`,
	}}}
	pgDup := &pq.Error{Code: "23505", Detail: "Key (email)=(jonas@example.io) already exists."}

	tests := []struct {
		name    string
		err     error
		kind    Kind
		status  int
		message string
	}{
		{
			name:    "cast error",
			err:     &CastError{Path: "_id", Value: "wwwww", Err: primitive.ErrInvalidHex},
			kind:    KindMalformedID,
			status:  400,
			message: "Invalid _id: wwwww.",
		},
		{
			name:    "bare invalid hex",
			err:     fmt.Errorf("lookup: %w", primitive.ErrInvalidHex),
			kind:    KindMalformedID,
			status:  400,
			message: "Invalid id.",
		},
		{
			name:    "mongo duplicate key",
			err:     mongoDup,
			kind:    KindDuplicateKey,
			status:  400,
			message: `Duplicate field value: "The Forest Hiker". Please use another value!`,
		},
		{
			name:    "postgres unique violation",
			err:     fmt.Errorf("insert user: %w", pgDup),
			kind:    KindDuplicateKey,
			status:  400,
			message: `Duplicate field value: "jonas@example.io". Please use another value!`,
		},
		{
			name:    "store duplicate key",
			err:     &DuplicateKeyError{Field: "name", Value: "The Sea Explorer"},
			kind:    KindDuplicateKey,
			status:  400,
			message: `Duplicate field value: "The Sea Explorer". Please use another value!`,
		},
		{
			name: "validation",
			err: (&ValidationError{}).
				Add("name", "A tour must have a name").
				Add("difficulty", "Difficulty is either: easy, medium, difficult").Err(),
			kind:    KindValidation,
			status:  400,
			message: "Invalid input data. A tour must have a name. Difficulty is either: easy, medium, difficult",
		},
		{
			name:    "token invalid",
			err:     fmt.Errorf("verify: %w", ErrTokenInvalid),
			kind:    KindTokenInvalid,
			status:  401,
			message: "Invalid token. Please log in again!",
		},
		{
			name:    "token expired sentinel",
			err:     ErrTokenExpired,
			kind:    KindTokenExpired,
			status:  401,
			message: "Your token has expired! Please log in again.",
		},
		{
			name:    "oidc token expired",
			err:     &oidc.TokenExpiredError{Expiry: time.Unix(0, 0)},
			kind:    KindTokenExpired,
			status:  401,
			message: "Your token has expired! Please log in again.",
		},
		{
			name:    "body too large",
			err:     &http.MaxBytesError{Limit: 10240},
			kind:    KindBodyTooLarge,
			status:  413,
			message: "Request body too large. Limit is 10240 bytes.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			op, kind := Classify(tc.err)
			if kind != tc.kind {
				t.Fatalf("kind = %v, want %v", kind, tc.kind)
			}
			if op == nil {
				t.Fatal("classified error should carry an OperationalError")
			}
			if op.StatusCode() != tc.status {
				t.Errorf("status = %d, want %d", op.StatusCode(), tc.status)
			}
			if op.Message() != tc.message {
				t.Errorf("message = %q, want %q", op.Message(), tc.message)
			}
			if !errors.Is(op, tc.err) {
				t.Error("classified error should keep the original as cause")
			}
		})
	}
}

func TestClassify_OperationalPassesThrough(t *testing.T) {
	orig := New("Too many requests from this IP, please try again in an hour!", 429)
	op, kind := Classify(fmt.Errorf("ratelimit: %w", orig))
	if kind != KindOperational || op != orig {
		t.Fatalf("got (%p, %v), want original operational error", op, kind)
	}
}

func TestClassify_Unclassified(t *testing.T) {
	for _, err := range []error{
		nil,
		errors.New("nil pointer somewhere"),
		&pq.Error{Code: "42P01"},
		&ValidationError{},
	} {
		if op, kind := Classify(err); op != nil || kind != KindUnclassified {
			t.Errorf("Classify(%v) = (%v, %v), want unclassified", err, op, kind)
		}
	}
}

func TestKindString(t *testing.T) {
	if KindDuplicateKey.String() != "duplicate_key" {
		t.Fatalf("String() = %q", KindDuplicateKey.String())
	}
	if Kind(99).String() != "unknown" {
		t.Fatalf("String() = %q", Kind(99).String())
	}
}
