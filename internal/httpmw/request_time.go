package httpmw

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

type requestTimeKey struct{}

// RequestTime stamps the request with clock's current time.
func RequestTime(clock clockwork.Clock) Middleware {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), requestTimeKey{}, clock.Now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestTimeFromContext returns the stamped time, or the zero time.
func RequestTimeFromContext(ctx context.Context) time.Time {
	t, _ := ctx.Value(requestTimeKey{}).(time.Time)
	return t
}

// ISOTime formats t in UTC with millisecond precision, e.g.
// 2024-03-01T10:04:05.123Z.
func ISOTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
