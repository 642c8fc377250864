package health

import (
	"encoding/json"
	"net/http"
)

type status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Handler answers 200 {"status":"ok"} while p passes and
// 503 {"status":"fail","message":reason} otherwise. A nil probe passes.
func Handler(p Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, body := http.StatusOK, status{Status: "ok"}
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				code, body = http.StatusServiceUnavailable, status{Status: "fail", Message: err.Error()}
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}
