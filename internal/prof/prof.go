// Package prof pushes continuous profiles to a Pyroscope server.
package prof

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/natours-api/internal/log"
	"github.com/keithlinneman/natours-api/internal/xerrors"
)

type Options struct {
	Enabled              bool
	AppName              string
	ServerAddress        string
	TenantID             string
	BasicAuthUser        string
	BasicAuthPassword    string
	Tags                 map[string]string
	ProfileMutexFraction int
	BlockProfileRate     int
	// OnActive reports whether the profiler is running (build metrics gauge).
	OnActive func(bool)
}

var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

// Start begins profiling when enabled. The returned stop func is safe to
// call more than once and is never nil.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	active := func(v bool) {
		if opts.OnActive != nil {
			opts.OnActive(v)
		}
	}

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		active(false)
		return func() {}, nil
	}

	if err := validateServer(opts.ServerAddress); err != nil {
		L.Error(ctx, err, "pyroscope options")
		active(false)
		return func() {}, err
	}
	if opts.AppName == "" {
		err := xerrors.New("pyroscope app name is required")
		L.Error(ctx, err, "pyroscope options")
		active(false)
		return func() {}, err
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   opts.AppName,
		ServerAddress:     opts.ServerAddress,
		TenantID:          opts.TenantID,
		BasicAuthUser:     opts.BasicAuthUser,
		BasicAuthPassword: opts.BasicAuthPassword,
		Tags:              opts.Tags,
		ProfileTypes:      profileTypes,
		Logger:            pyroLogger{ctx: ctx, L: L.With("component", "pyroscope")},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed",
			"server_address", opts.ServerAddress,
			"app_name", opts.AppName,
		)
		active(false)
		return func() {}, xerrors.Wrap(err, "start pyroscope")
	}

	L.Info(ctx, "pyroscope started",
		"server_address", opts.ServerAddress,
		"app_name", opts.AppName,
		"tags", len(opts.Tags),
	)
	active(true)

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := profiler.Stop(); err != nil {
				L.Error(context.Background(), err, "pyroscope stop")
			}
			active(false)
			L.Info(context.Background(), "pyroscope stopped", "app_name", opts.AppName)
		})
	}, nil
}

func validateServer(addr string) error {
	if addr == "" {
		return xerrors.Newf("invalid server address (%q)", addr)
	}
	u, err := url.Parse(addr)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return xerrors.Newf("invalid server address (%q)", addr)
	}
	return nil
}

// pyroLogger routes the profiler's own printf-style logs into ours.
type pyroLogger struct {
	ctx context.Context
	L   log.Logger
}

func (p pyroLogger) Infof(f string, args ...any)  { p.L.Debug(p.ctx, fmt.Sprintf(f, args...)) }
func (p pyroLogger) Debugf(f string, args ...any) { p.L.Debug(p.ctx, fmt.Sprintf(f, args...)) }
func (p pyroLogger) Errorf(f string, args ...any) {
	p.L.Error(p.ctx, fmt.Errorf(f, args...), "pyroscope")
}
