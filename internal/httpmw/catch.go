package httpmw

import "net/http"

// HandlerFunc is a handler that reports failure by returning an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Catch adapts h to http.Handler. A returned error or a panic raised by h is
// forwarded to the error channel; h runs on the request goroutine so no
// failure can outlive the request.
func Catch(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				recovered(w, r, v)
			}
		}()

		if err := h(w, r); err != nil {
			Forward(w, r, err)
		}
	})
}
