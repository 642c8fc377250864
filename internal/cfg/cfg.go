package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/natours-api/internal/log"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

type App struct {
	ConfigFile string
	Mode       string

	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort    int
	AdminPort   int
	TrustedHops int
	APIPrefix   string
	StaticDir   string
	BodyLimit   int64
	DrainPeriod time.Duration

	RateLimitMax        int
	RateLimitWindow     time.Duration
	RateLimitMaxRecords int
	HPPWhitelist        string

	EmailHost             string
	EmailPort             int
	EmailUsername         string
	EmailPassword         string
	EmailPasswordSSMParam string
	EmailFrom             string
	EmailRate             float64
	EmailBurst            int

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.ConfigFile, "config", "", "optional YAML file of flag-name: value pairs")
	fs.StringVar(&c.Mode, "mode", ModeProduction, "development|production")

	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 3000, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of the server whose X-Forwarded-For entries are trusted")
	fs.StringVar(&c.APIPrefix, "api-prefix", "/api", "path prefix of the JSON API (rate limited, never served from static-dir)")
	fs.StringVar(&c.StaticDir, "static-dir", "public", "directory served for non-API paths (empty disables)")
	fs.Int64Var(&c.BodyLimit, "body-limit", 10<<10, "max request body in bytes")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 15*time.Second, "time readiness fails before listeners stop on shutdown")

	fs.IntVar(&c.RateLimitMax, "rate-limit-max", 100, "requests per client per window")
	fs.DurationVar(&c.RateLimitWindow, "rate-limit-window", time.Hour, "rate limit window")
	fs.IntVar(&c.RateLimitMaxRecords, "rate-limit-max-records", 0, "max tracked clients, 0 for unbounded")
	fs.StringVar(&c.HPPWhitelist, "hpp-whitelist", "duration,ratingsQuantity,ratingsAverage,maxGroupSize,difficulty,price",
		"comma separated query params allowed to repeat")

	fs.StringVar(&c.EmailHost, "email-host", "", "SMTP relay host (empty logs mail instead of sending)")
	fs.IntVar(&c.EmailPort, "email-port", 587, "SMTP relay port")
	fs.StringVar(&c.EmailUsername, "email-username", "", "SMTP username")
	fs.StringVar(&c.EmailPassword, "email-password", "", "SMTP password")
	fs.StringVar(&c.EmailPasswordSSMParam, "email-password-ssm-param", "", "SSM SecureString holding the SMTP password")
	fs.StringVar(&c.EmailFrom, "email-from", "Natours <noreply@natours.dev>", "From address")
	fs.Float64Var(&c.EmailRate, "email-rate", 1, "sustained emails per second (0 disables throttling)")
	fs.IntVar(&c.EmailBurst, "email-burst", 5, "email burst size")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
}

// IsDevelopment reports whether development diagnostics are enabled.
func (c App) IsDevelopment() bool { return c.Mode == ModeDevelopment }

// HPPParams returns the parameter pollution whitelist.
func (c App) HPPParams() []string {
	var out []string
	for _, p := range strings.Split(c.HPPWhitelist, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.Mode != ModeDevelopment && c.Mode != ModeProduction {
		errs = append(errs, fmt.Errorf("invalid MODE %q (must be development or production)", c.Mode))
	}

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be >= 0)", c.TrustedHops))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Request pipeline
	if !strings.HasPrefix(c.APIPrefix, "/") || len(c.APIPrefix) < 2 {
		errs = append(errs, fmt.Errorf("API_PREFIX must be an absolute path below / (got %q)", c.APIPrefix))
	}
	if c.BodyLimit < 1 {
		errs = append(errs, fmt.Errorf("invalid BODY_LIMIT %d (must be > 0)", c.BodyLimit))
	}
	if c.DrainPeriod < 0 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_PERIOD %s (must be >= 0)", c.DrainPeriod))
	}
	if c.RateLimitMax < 1 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_MAX %d (must be > 0)", c.RateLimitMax))
	}
	if c.RateLimitWindow < time.Second {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_WINDOW %s (must be >= 1s)", c.RateLimitWindow))
	}
	if c.RateLimitMaxRecords < 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_MAX_RECORDS %d (must be >= 0)", c.RateLimitMaxRecords))
	}

	// Email
	if c.EmailHost != "" {
		if c.EmailPort < 1 || c.EmailPort > 65535 {
			errs = append(errs, fmt.Errorf("invalid EMAIL_PORT %d (must be 1..65535)", c.EmailPort))
		}
		if c.EmailPassword != "" && c.EmailPasswordSSMParam != "" {
			errs = append(errs, fmt.Errorf("set only one of EMAIL_PASSWORD and EMAIL_PASSWORD_SSM_PARAM"))
		}
	}
	if _, err := mail.ParseAddress(c.EmailFrom); err != nil {
		errs = append(errs, fmt.Errorf("invalid EMAIL_FROM %q: %w", c.EmailFrom, err))
	}
	if c.EmailRate < 0 {
		errs = append(errs, fmt.Errorf("invalid EMAIL_RATE %g (must be >= 0)", c.EmailRate))
	}
	if c.EmailRate > 0 && c.EmailBurst < 1 {
		errs = append(errs, fmt.Errorf("invalid EMAIL_BURST %d (must be >= 1)", c.EmailBurst))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
