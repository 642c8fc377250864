package opshttp

import (
	"net"
	"net/http"
	"net/http/pprof"
	"net/netip"

	"github.com/keithlinneman/natours-api/internal/log"
)

// RegisterPprof mounts the runtime profiling handlers under /debug/pprof/,
// reachable only from loopback, private and link-local peers.
func RegisterPprof(mux *http.ServeMux, L log.Logger) {
	guard := func(h http.Handler) http.Handler { return requireNonPublicNetwork(L, h) }

	mux.Handle("/debug/pprof/", guard(http.HandlerFunc(pprof.Index)))
	mux.Handle("/debug/pprof/cmdline", guard(http.HandlerFunc(pprof.Cmdline)))
	mux.Handle("/debug/pprof/profile", guard(http.HandlerFunc(pprof.Profile)))
	mux.Handle("/debug/pprof/symbol", guard(http.HandlerFunc(pprof.Symbol)))
	mux.Handle("/debug/pprof/trace", guard(http.HandlerFunc(pprof.Trace)))
}

// requireNonPublicNetwork rejects peers with a public address. The admin port
// is normally firewalled; this is the second line.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			forbid(w, r, L, "unparseable remote addr")
			return
		}
		ip, err := netip.ParseAddr(host)
		if err != nil {
			forbid(w, r, L, "invalid remote ip")
			return
		}
		// ::ffff:a.b.c.d is judged as a.b.c.d
		ip = ip.Unmap()
		if !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()) {
			forbid(w, r, L, "public remote ip")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func forbid(w http.ResponseWriter, r *http.Request, L log.Logger, reason string) {
	L.Warn(r.Context(), "ops request rejected",
		"reason", reason,
		"remote_addr", r.RemoteAddr,
		"path", r.URL.Path,
	)
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}
