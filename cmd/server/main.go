package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jonboulle/clockwork"

	"github.com/keithlinneman/natours-api/internal/apperr"
	"github.com/keithlinneman/natours-api/internal/cfg"
	"github.com/keithlinneman/natours-api/internal/errctl"
	"github.com/keithlinneman/natours-api/internal/health"
	"github.com/keithlinneman/natours-api/internal/httpmw"
	"github.com/keithlinneman/natours-api/internal/httpserver"
	"github.com/keithlinneman/natours-api/internal/log"
	"github.com/keithlinneman/natours-api/internal/metrics"
	"github.com/keithlinneman/natours-api/internal/notify"
	"github.com/keithlinneman/natours-api/internal/opshttp"
	"github.com/keithlinneman/natours-api/internal/otelx"
	"github.com/keithlinneman/natours-api/internal/prof"
	"github.com/keithlinneman/natours-api/internal/ratelimit"
	"github.com/keithlinneman/natours-api/internal/static"
	"github.com/keithlinneman/natours-api/internal/tours"
	"github.com/keithlinneman/natours-api/internal/users"
	v "github.com/keithlinneman/natours-api/internal/version"
)

func main() {
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags, env and the optional config file
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "NATOURS_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if conf.ConfigFile != "" {
		if err := cfg.FillFromFile(flag.CommandLine, conf.ConfigFile); err != nil {
			fmt.Fprintln(os.Stderr, "config error:", err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging, levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:             v.App,
		Version:         vi.Version,
		Commit:          vi.Commit,
		Env:             conf.Mode,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSONFormat:      conf.LogJSON,
		ErrorLinks:      conf.IncludeErrorLinks,
		MaxErrorLinks:   conf.MaxErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"mode", conf.Mode,
		"config_file", conf.ConfigFile,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"trusted_hops", conf.TrustedHops,
		"api_prefix", conf.APIPrefix,
		"static_dir", conf.StaticDir,
		"body_limit", conf.BodyLimit,
		"rate_limit_max", conf.RateLimitMax,
		"rate_limit_window", conf.RateLimitWindow,
		"rate_limit_max_records", conf.RateLimitMaxRecords,
		"email_host", conf.EmailHost,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.App, "server", &vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.App,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"mode":      conf.Mode,
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure is true because we only write to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:     conf.EnableTracing,
		Endpoint:    conf.OTLPEndpoint,
		Insecure:    true,
		Sample:      conf.TraceSample,
		Service:     v.App,
		Component:   "server",
		Version:     vi.Version,
		Environment: conf.Mode,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}

	mailer, err := newMailer(ctx, conf, L, m)
	if err != nil {
		L.Error(ctx, err, "failed to set up email")
		os.Exit(1)
	}

	clock := clockwork.NewRealClock()

	limiter := ratelimit.New(ctx,
		ratelimit.WithLimit(conf.RateLimitMax, conf.RateLimitWindow),
		ratelimit.WithMaxRecords(conf.RateLimitMaxRecords),
		ratelimit.WithPrefix(conf.APIPrefix),
		ratelimit.WithClock(clock),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
		// only log the first denial per record so one client cannot flood the log
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new clients until records expire")
		}),
	)
	m.TrackRateLimitRecords(limiter.Len)

	mode := errctl.ModeProduction
	if conf.IsDevelopment() {
		mode = errctl.ModeDevelopment
	}
	renderer := errctl.New(errctl.Options{
		Mode:   mode,
		Logger: L.With("component", "errctl"),
		OnRendered: func(kind apperr.Kind, status int) {
			m.IncErrorRendered(kind.String(), status)
		},
	})

	staticMW, err := newStatic(conf)
	if err != nil {
		L.Warn(ctx, "static assets disabled", "static_dir", conf.StaticDir, "error", err)
	}

	v1 := conf.APIPrefix + "/v1"
	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Development:  conf.IsDevelopment(),
		Renderer:     renderer,
		OnPanic:      func(*http.Request, any) { m.IncHttpPanic() },
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		StaticMW:     staticMW,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		BodyLimit:    conf.BodyLimit,
		HPPWhitelist: conf.HPPParams(),
		Clock:        clock,
		Mounts: []httpserver.Mount{
			{Prefix: v1 + "/tours", Handler: tours.Router(tours.NewMemStore(clock))},
			{Prefix: v1 + "/users", Handler: users.Router(users.Options{Mailer: mailer, Clock: clock})},
		},
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener", "port", conf.HTTPPort)
		os.Exit(1)
	}

	// readiness fails while draining or while the limiter cannot admit new clients
	var gate health.Gate
	readiness := health.All(
		gate.Probe(),
		health.Capacity("ratelimit records", limiter.Len, conf.RateLimitMaxRecords),
	)

	// the admin listener is firewalled to monitoring; pprof additionally
	// rejects public peers in case that ever changes
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.OK(),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener", "port", conf.AdminPort)
		_ = siteHTTPStop(context.Background())
		os.Exit(1)
	}

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Close("draining")
	if conf.DrainPeriod > 0 {
		L.Info(context.Background(), "waiting for load balancer to drain", "period", conf.DrainPeriod)
		forceCh := make(chan os.Signal, 1)
		signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-time.After(conf.DrainPeriod):
			L.Info(context.Background(), "drain period complete")
		case <-forceCh:
			L.Warn(context.Background(), "second signal received, skipping drain")
		}
		signal.Stop(forceCh)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	L.Info(context.Background(), "shutdown complete")
}

// newMailer returns the SMTP sender, or a LogSender when no relay is set.
// The relay password comes from the flag or from an SSM SecureString.
func newMailer(ctx context.Context, conf cfg.App, L log.Logger, m *metrics.ServerMetrics) (notify.Sender, error) {
	if conf.EmailHost == "" {
		L.Info(ctx, "no smtp relay configured, emails will be logged")
		return notify.LogSender{Logger: L.With("component", "notify")}, nil
	}

	password := conf.EmailPassword
	if conf.EmailPasswordSSMParam != "" {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		password, err = notify.PasswordFromSSM(ctx, ssm.NewFromConfig(awsCfg), conf.EmailPasswordSSMParam)
		if err != nil {
			return nil, err
		}
		L.Info(ctx, "loaded smtp password from ssm", "param", conf.EmailPasswordSSMParam)
	}

	return notify.NewSMTP(notify.Options{
		Host:     conf.EmailHost,
		Port:     conf.EmailPort,
		Username: conf.EmailUsername,
		Password: password,
		From:     conf.EmailFrom,
		Rate:     conf.EmailRate,
		Burst:    conf.EmailBurst,
		Logger:   L.With("component", "notify"),
		OnResult: m.IncNotification,
	})
}

// newStatic serves conf.StaticDir for non-API paths. A missing directory
// returns a pass-through middleware and the reason.
func newStatic(conf cfg.App) (httpmw.Middleware, error) {
	pass := func(next http.Handler) http.Handler { return next }
	if conf.StaticDir == "" {
		return pass, nil
	}
	fi, err := os.Stat(conf.StaticDir)
	if err != nil {
		return pass, err
	}
	if !fi.IsDir() {
		return pass, &fs.PathError{Op: "stat", Path: conf.StaticDir, Err: errors.New("not a directory")}
	}
	mw, err := static.Middleware(static.Options{FS: os.DirFS(conf.StaticDir), APIPrefix: conf.APIPrefix})
	if err != nil {
		return pass, err
	}
	return mw, nil
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit has Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return errors.New("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
