package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func resolve(t *testing.T, hops int, remote, xff string) (string, *http.Request) {
	t.Helper()
	var got string
	var seen *http.Request
	h := ClientIPWithOptions(ClientIPOptions{TrustedHops: hops})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
		seen = r
	}))
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = remote
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	serve(h, req)
	return got, seen
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		hops   int
		remote string
		xff    string
		want   string
	}{
		{"direct public peer", 0, "203.0.113.9:5555", "", "203.0.113.9"},
		{"public peer ignores xff", 1, "203.0.113.9:5555", "1.2.3.4", "203.0.113.9"},
		{"private peer, no hops", 0, "10.0.0.5:80", "1.2.3.4", "10.0.0.5"},
		{"single proxy takes rightmost", 1, "10.0.0.5:80", "6.6.6.6, 198.51.100.7", "198.51.100.7"},
		{"two proxies", 2, "10.0.0.5:80", "6.6.6.6, 198.51.100.7, 10.0.0.9", "198.51.100.7"},
		{"too few entries fails closed", 3, "10.0.0.5:80", "198.51.100.7", "10.0.0.5"},
		{"garbage entry falls back", 1, "10.0.0.5:80", "not-an-ip", "10.0.0.5"},
		{"malformed remote", 0, "nonsense", "", "nonsense"},
		{"empty remote", 0, "", "", "0.0.0.0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got, _ := resolve(t, tc.hops, tc.remote, tc.xff); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClientIP_StripsUntrustedHeaders(t *testing.T) {
	_, r := resolve(t, 0, "203.0.113.9:5555", "1.2.3.4")
	if r.Header.Get("X-Forwarded-For") != "" {
		t.Fatal("untrusted X-Forwarded-For left on the request")
	}
}
