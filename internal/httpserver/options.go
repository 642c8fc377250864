package httpserver

import (
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/keithlinneman/natours-api/internal/httpmw"
	"github.com/keithlinneman/natours-api/internal/log"
)

// Mount is a domain router served under Prefix.
type Mount struct {
	Prefix  string
	Handler http.Handler
}

type Options struct {
	Logger log.Logger
	Port   int

	// Development installs the access log.
	Development bool

	// Renderer turns every forwarded error into the response. Defaults to a
	// production errctl.Controller.
	Renderer httpmw.Renderer
	OnPanic  func(r *http.Request, v any)

	MetricsMW    httpmw.Middleware
	RateLimitMW  httpmw.Middleware
	StaticMW     httpmw.Middleware
	ClientIPOpts httpmw.ClientIPOptions

	// BodyLimit defaults to httpmw.DefaultBodyLimit.
	BodyLimit    int64
	HPPWhitelist []string
	Clock        clockwork.Clock

	Mounts []Mount
}
