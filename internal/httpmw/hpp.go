package httpmw

import "net/http"

// ParamPollution collapses repeated query parameters to the last value seen,
// except for names in whitelist which keep every value.
func ParamPollution(whitelist []string) Middleware {
	allow := make(map[string]struct{}, len(whitelist))
	for _, k := range whitelist {
		allow[k] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.RawQuery == "" {
				next.ServeHTTP(w, r)
				return
			}
			q := r.URL.Query()
			changed := false
			for k, vs := range q {
				if len(vs) < 2 {
					continue
				}
				if _, ok := allow[k]; ok {
					continue
				}
				q[k] = vs[len(vs)-1:]
				changed = true
			}
			if changed {
				r.URL.RawQuery = q.Encode()
			}
			next.ServeHTTP(w, r)
		})
	}
}
