package httpmw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/keithlinneman/natours-api/internal/apperr"
	"github.com/keithlinneman/natours-api/internal/xerrors"
)

// DefaultBodyLimit matches the 10kb JSON cap of the public API.
const DefaultBodyLimit int64 = 10 << 10

// BodyLimit rejects a declared Content-Length above limit before anything is
// read. Bodies without a declared length are read through a capped reader
// and fail with *http.MaxBytesError once the cap is crossed.
func BodyLimit(limit int64) Middleware {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				Forward(w, r, &http.MaxBytesError{Limit: limit})
				return
			}
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type bodyKey struct{}

type parsedBody struct {
	v         any
	sanitized bool
}

// BodyFromContext returns the decoded JSON body, or nil when the request
// carried none.
func BodyFromContext(ctx context.Context) any {
	if b, ok := ctx.Value(bodyKey{}).(parsedBody); ok {
		return b.v
	}
	return nil
}

func withBody(r *http.Request, b parsedBody, raw []byte) *http.Request {
	r = r.WithContext(context.WithValue(r.Context(), bodyKey{}, b))
	r.Body = io.NopCloser(bytes.NewReader(raw))
	r.ContentLength = int64(len(raw))
	return r
}

// ParseJSON decodes application/json bodies once, stores the value for later
// stages and replays the bytes on r.Body. Malformed JSON is a 400.
func ParseJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody || !isJSON(r.Header.Get("Content-Type")) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				Forward(w, r, mbe)
				return
			}
			Forward(w, r, apperr.Wrap(err, "Could not read request body.", http.StatusBadRequest))
			return
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			r.Body = http.NoBody
			next.ServeHTTP(w, r)
			return
		}

		var v any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil || dec.More() {
			if err == nil {
				err = errors.New("trailing data after JSON value")
			}
			Forward(w, r, apperr.Wrap(err, "Invalid JSON in request body.", http.StatusBadRequest))
			return
		}

		next.ServeHTTP(w, withBody(r, parsedBody{v: v}, raw))
	})
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// DecodeJSON decodes the body left by ParseJSON and Sanitize into dst. The
// raw r.Body is never read, so a body that bypassed sanitization cannot reach
// a handler: non-JSON bodies are a 415, missing bodies a 400.
func DecodeJSON(r *http.Request, dst any) error {
	b, ok := r.Context().Value(bodyKey{}).(parsedBody)
	if !ok {
		if hasBody(r) && !isJSON(r.Header.Get("Content-Type")) {
			return apperr.New("Request body must be sent as application/json.", http.StatusUnsupportedMediaType)
		}
		return apperr.New("Request body is required.", http.StatusBadRequest)
	}
	if !b.sanitized {
		return xerrors.New("request body decoded before sanitization")
	}
	raw, err := json.Marshal(b.v)
	if err != nil {
		return xerrors.Wrap(err, "re-encode sanitized body")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Wrap(err, "Invalid input data.", http.StatusBadRequest)
	}
	return nil
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}
