package cfg

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newFlagSet registers flags on a fresh FlagSet so each test is isolated
// from flag.CommandLine.
func newFlagSet(t *testing.T, args []string) (*flag.FlagSet, *App) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return fs, &c
}

func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	_, c := newFlagSet(t, args)
	return *c
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if c.Mode != ModeProduction || c.IsDevelopment() {
		t.Errorf("Mode: want production, got %q", c.Mode)
	}
	if !c.LogJSON {
		t.Error("LogJSON: want true")
	}
	if c.HTTPPort != 3000 {
		t.Errorf("HTTPPort: want 3000, got %d", c.HTTPPort)
	}
	if c.RateLimitMax != 100 || c.RateLimitWindow != time.Hour {
		t.Errorf("rate limit: want 100/1h, got %d/%s", c.RateLimitMax, c.RateLimitWindow)
	}
	if c.DrainPeriod != 15*time.Second {
		t.Errorf("DrainPeriod: want 15s, got %s", c.DrainPeriod)
	}
	if c.BodyLimit != 10240 {
		t.Errorf("BodyLimit: want 10240, got %d", c.BodyLimit)
	}
	if c.APIPrefix != "/api" || c.StaticDir != "public" {
		t.Errorf("paths: %q %q", c.APIPrefix, c.StaticDir)
	}
	want := []string{"duration", "ratingsQuantity", "ratingsAverage", "maxGroupSize", "difficulty", "price"}
	if got := c.HPPParams(); !slices.Equal(got, want) {
		t.Errorf("HPPParams: got %v", got)
	}
	if c.EmailFrom != "Natours <noreply@natours.dev>" {
		t.Errorf("EmailFrom: got %q", c.EmailFrom)
	}
	if err := Validate(c); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-mode=development",
		"-log-level=debug",
		"-http-port=9090",
		"-rate-limit-max=3",
		"-rate-limit-window=15m",
		"-body-limit=2048",
		"-hpp-whitelist= price , duration,,",
		"-email-host=smtp.mailtrap.io",
		"-email-port=2525",
	})

	if !c.IsDevelopment() {
		t.Error("Mode: want development")
	}
	if c.LogLevel != "debug" || c.HTTPPort != 9090 {
		t.Errorf("got level %q port %d", c.LogLevel, c.HTTPPort)
	}
	if c.RateLimitMax != 3 || c.RateLimitWindow != 15*time.Minute {
		t.Errorf("rate limit: got %d/%s", c.RateLimitMax, c.RateLimitWindow)
	}
	if c.BodyLimit != 2048 {
		t.Errorf("BodyLimit: got %d", c.BodyLimit)
	}
	if got := c.HPPParams(); !slices.Equal(got, []string{"price", "duration"}) {
		t.Errorf("HPPParams: got %v", got)
	}
	if c.EmailHost != "smtp.mailtrap.io" || c.EmailPort != 2525 {
		t.Errorf("email: got %s:%d", c.EmailHost, c.EmailPort)
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	t.Setenv(pfx+"MODE", "development")
	t.Setenv(pfx+"LOG_JSON", "false")
	t.Setenv(pfx+"HTTP_PORT", "8088")
	t.Setenv(pfx+"RATE_LIMIT_WINDOW", "30s")
	t.Setenv(pfx+"EMAIL_PASSWORD_SSM_PARAM", "/natours/smtp/password")
	t.Setenv(pfx+"TRACE_SAMPLE", "0.25")

	fs, c := newFlagSet(t, nil)
	FillFromEnv(fs, pfx, nil)

	if !c.IsDevelopment() {
		t.Error("Mode: want development from env")
	}
	if c.LogJSON {
		t.Error("LogJSON: want false from env")
	}
	if c.HTTPPort != 8088 {
		t.Errorf("HTTPPort: want 8088, got %d", c.HTTPPort)
	}
	if c.RateLimitWindow != 30*time.Second {
		t.Errorf("RateLimitWindow: got %s", c.RateLimitWindow)
	}
	if c.EmailPasswordSSMParam != "/natours/smtp/password" {
		t.Errorf("EmailPasswordSSMParam: got %q", c.EmailPasswordSSMParam)
	}
	if c.TraceSample != 0.25 {
		t.Errorf("TraceSample: want 0.25, got %f", c.TraceSample)
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"HTTP_PORT", "7777")
	t.Setenv(pfx+"LOG_LEVEL", "warn")
	t.Setenv(pfx+"ENABLE_PPROF", "false")

	fs, c := newFlagSet(t, []string{"-http-port=9090", "-log-level=debug", "-enable-pprof=true"})

	var overrideMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		overrideMessages = append(overrideMessages, fmt.Sprintf(format, args...))
	})

	if c.HTTPPort != 9090 || c.LogLevel != "debug" || !c.EnablePprof {
		t.Errorf("cli lost: port %d level %q pprof %v", c.HTTPPort, c.LogLevel, c.EnablePprof)
	}
	if len(overrideMessages) != 3 {
		t.Errorf("expected 3 override messages, got %d: %v", len(overrideMessages), overrideMessages)
	}
	for _, msg := range overrideMessages {
		if !strings.Contains(msg, "overrides env") {
			t.Errorf("unexpected override message format: %s", msg)
		}
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"HTTP_PORT", "not-a-number")

	fs, c := newFlagSet(t, nil)
	var logMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		logMessages = append(logMessages, fmt.Sprintf(format, args...))
	})

	if c.HTTPPort != 3000 {
		t.Errorf("HTTPPort: want 3000 (default), got %d", c.HTTPPort)
	}
	if len(logMessages) != 1 || !strings.Contains(logMessages[0], "ignoring invalid env") {
		t.Fatalf("log messages: %v", logMessages)
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "natours.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFillFromFile_Precedence(t *testing.T) {
	pfx := "TESTCFG4_"
	t.Setenv(pfx+"RATE_LIMIT_MAX", "50")

	path := writeFile(t, `
http-port: 4000
log-level: warn
rate-limit-max: 10
rate-limit-window: 10m
hpp-whitelist: [price, duration]
email-rate: 0.5
`)
	fs, c := newFlagSet(t, []string{"-log-level=debug"})
	FillFromEnv(fs, pfx, nil)
	if err := FillFromFile(fs, path); err != nil {
		t.Fatalf("FillFromFile: %v", err)
	}

	if c.HTTPPort != 4000 {
		t.Errorf("HTTPPort: want 4000 from file, got %d", c.HTTPPort)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want debug from cli, got %q", c.LogLevel)
	}
	if c.RateLimitMax != 50 {
		t.Errorf("RateLimitMax: want 50 from env, got %d", c.RateLimitMax)
	}
	if c.RateLimitWindow != 10*time.Minute {
		t.Errorf("RateLimitWindow: got %s", c.RateLimitWindow)
	}
	if c.HPPWhitelist != "price,duration" {
		t.Errorf("HPPWhitelist: got %q", c.HPPWhitelist)
	}
	if c.EmailRate != 0.5 {
		t.Errorf("EmailRate: got %g", c.EmailRate)
	}
}

func TestFillFromFile_Errors(t *testing.T) {
	fs, _ := newFlagSet(t, nil)
	if err := FillFromFile(fs, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}

	path := writeFile(t, "http-prot: 1\nhttp-port: nope\n")
	err := FillFromFile(fs, path)
	wantErrContains(t, err, `unknown key "http-prot"`)
	wantErrContains(t, err, "http-port:")

	wantErrContains(t, FillFromFile(fs, writeFile(t, "::not yaml")), "parse config file")
}

func TestValidate_OK(t *testing.T) {
	c := newTestConfig(t, []string{
		"-enable-pyroscope=true",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-enable-tracing=true",
		"-otlp-endpoint=otel:4317",
		"-trace-sample=0.2",
		"-email-host=smtp.example.test",
		"-email-password-ssm-param=/natours/smtp/password",
	})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	c := newTestConfig(t, []string{
		"-mode=staging",
		"-http-port=0",
		"-admin-port=70000",
		"-log-level=nope",
		"-trace-sample=2.0",
		"-enable-pyroscope=true",
		"-pyro-server=not-a-url",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-max-error-links=0",
		"-api-prefix=api",
		"-body-limit=0",
		"-drain-period=-1s",
		"-rate-limit-max=0",
		"-rate-limit-window=10ms",
		"-email-host=smtp.example.test",
		"-email-password=pw",
		"-email-password-ssm-param=/p",
		"-email-from=nobody",
	})

	err := Validate(c)
	for _, want := range []string{
		"invalid MODE",
		"invalid HTTP_PORT",
		"invalid ADMIN_PORT",
		"invalid LOG_LEVEL",
		"invalid TRACE_SAMPLE",
		"PYRO_SERVER must be a URL",
		"PYRO_TENANT required",
		"OTLP_ENDPOINT must be host:port",
		"MAX_ERROR_LINKS",
		"API_PREFIX",
		"invalid BODY_LIMIT",
		"invalid DRAIN_PERIOD",
		"invalid RATE_LIMIT_MAX",
		"invalid RATE_LIMIT_WINDOW",
		"set only one of EMAIL_PASSWORD",
		"invalid EMAIL_FROM",
	} {
		wantErrContains(t, err, want)
	}
}
