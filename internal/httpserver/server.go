package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/natours-api/internal/apperr"
	"github.com/keithlinneman/natours-api/internal/errctl"
	"github.com/keithlinneman/natours-api/internal/httpmw"
	"github.com/keithlinneman/natours-api/internal/log"
	"github.com/keithlinneman/natours-api/internal/xerrors"
)

// NewHandler builds the public handler: ambient stages, the request gate,
// then the domain routers.
// main() owns *http.Server so it can do graceful shutdown
func NewHandler(opts *Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = httpmw.DefaultBodyLimit
	}
	if opts.Renderer == nil {
		opts.Renderer = errctl.New(errctl.Options{Logger: opts.Logger})
	}

	r := chi.NewRouter()

	// unmatched routes and methods become the standard 404 envelope
	notFound := func(w http.ResponseWriter, r *http.Request) {
		httpmw.Forward(w, r, apperr.NotFound(r.URL.RequestURI()))
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	for _, m := range opts.Mounts {
		r.Mount(m.Prefix, m.Handler)
	}

	var accessLog httpmw.Middleware
	if opts.Development {
		accessLog = httpmw.AccessLog
	}

	return httpmw.Chain(r,
		// ambient: headers on every response, identity, tracing, metrics
		httpmw.SecurityHeaders,
		httpmw.RequestID(httpmw.DefaultRequestIDHeader),
		httpmw.ClientIPWithOptions(opts.ClientIPOpts),
		traced,
		httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id"),
		opts.MetricsMW,
		httpmw.AnnotateRoute,
		httpmw.WithLogger(opts.Logger),
		accessLog,
		middleware.Compress(5,
			"application/json",
			"text/html",
			"text/css",
			"application/javascript",
			"text/javascript",
			"image/svg+xml",
		),

		// error channel: everything below forwards here
		httpmw.Errors(opts.Renderer, opts.OnPanic),

		// request gate
		opts.RateLimitMW,
		httpmw.BodyLimit(opts.BodyLimit),
		httpmw.ParseJSON,
		httpmw.Sanitize,
		httpmw.ParamPollution(opts.HPPWhitelist),
		opts.StaticMW,
		httpmw.RequestTime(opts.Clock),
	)
}

// traced starts the server span. Static assets are not traced.
func traced(next http.Handler) http.Handler {
	return otelhttp.NewHandler(
		next,
		"http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return shouldTrace(r.URL.Path)
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// AnnotateRoute renames the span to the matched pattern
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(r *http.Request) bool { return true }),
	)
}

func shouldTrace(p string) bool {
	if p == "/favicon.ico" || p == "/robots.txt" {
		return false
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return false
	}
	return true
}

// Server timeout defaults.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start public HTTP server
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = 3000
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.EnsureTrace(err)
	}

	go func() {
		opts.Logger.Info(ctx, "http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			opts.Logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
