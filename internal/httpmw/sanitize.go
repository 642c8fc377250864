package httpmw

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	"github.com/keithlinneman/natours-api/internal/log"
)

// markup is shared by every request; bluemonday policies are safe for
// concurrent use once built.
var markup = bluemonday.StrictPolicy()

// Sanitize strips query operator injection and markup from the query string
// and the decoded JSON body. Keys that start with "$" or contain "." are
// dropped at every depth; string values lose all tags, script and style
// contents included, and the remaining text is HTML-escaped. Path params are
// resolved later by the router, read them through Param.
func Sanitize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			q, dropped := sanitizeQuery(r.URL.Query())
			r.URL.RawQuery = q.Encode()
			if dropped > 0 {
				ctx := r.Context()
				log.FromContext(ctx).Warn(ctx, "dropped operator keys from query", "count", dropped)
			}
		}

		if b, ok := r.Context().Value(bodyKey{}).(parsedBody); ok {
			clean, dropped := sanitizeValue(b.v)
			raw, err := json.Marshal(clean)
			if err != nil {
				Forward(w, r, err)
				return
			}
			if dropped > 0 {
				ctx := r.Context()
				log.FromContext(ctx).Warn(ctx, "dropped operator keys from body", "count", dropped)
			}
			r = withBody(r, parsedBody{v: clean, sanitized: true}, raw)
		}

		next.ServeHTTP(w, r)
	})
}

// Param returns the chi URL parameter key, sanitized the same way as query
// values. A value that is itself an operator comes back empty.
func Param(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if strings.HasPrefix(v, "$") {
		return ""
	}
	return markup.Sanitize(v)
}

// unsafeKey reports operator or path keys. Bracketed query keys such as
// price[$gte] are checked per segment.
func unsafeKey(k string) bool {
	for _, seg := range strings.FieldsFunc(k, func(r rune) bool { return r == '[' || r == ']' }) {
		if strings.HasPrefix(seg, "$") || strings.Contains(seg, ".") {
			return true
		}
	}
	return false
}

func sanitizeQuery(q url.Values) (url.Values, int) {
	out := make(url.Values, len(q))
	dropped := 0
	for k, vs := range q {
		if unsafeKey(k) {
			dropped++
			continue
		}
		clean := make([]string, len(vs))
		for i, v := range vs {
			clean[i] = markup.Sanitize(v)
		}
		out[k] = clean
	}
	return out, dropped
}

func sanitizeValue(v any) (any, int) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		dropped := 0
		for k, child := range t {
			if unsafeKey(k) {
				dropped++
				continue
			}
			c, n := sanitizeValue(child)
			out[k] = c
			dropped += n
		}
		return out, dropped
	case []any:
		out := make([]any, len(t))
		dropped := 0
		for i, child := range t {
			c, n := sanitizeValue(child)
			out[i] = c
			dropped += n
		}
		return out, dropped
	case string:
		return markup.Sanitize(t), 0
	default:
		return v, 0
	}
}
