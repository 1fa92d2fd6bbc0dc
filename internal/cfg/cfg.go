// Package cfg holds the service configuration: flags registered on a
// FlagSet, backfilled from environment variables, validated before the
// service starts. Precedence: cli flag > env var > default.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/quickapi/quickapi/internal/log"
)

type App struct {
	LogJSON  bool
	LogLevel string

	HTTPPort  int
	AdminPort int

	DBDSN string

	RateStrategy        string
	RateSustainedLimit  int
	RateSustainedWindow time.Duration
	RateBurstLimit      int
	RateBurstWindow     time.Duration
	RateIdleTTL         time.Duration
	RateMaxClients      int
	RateFailClosed      bool

	TrustedHops    int
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	CORSOrigins    string

	EnablePprof     bool
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9090, "admin listen TCP port (1..65535)")
	fs.StringVar(&c.DBDSN, "db-dsn", "file:quickapi.db", "database DSN (file: selects sqlite, postgres:// selects postgres)")
	fs.StringVar(&c.RateStrategy, "rate-strategy", "window", "rate limit arithmetic: window|bucket")
	fs.IntVar(&c.RateSustainedLimit, "rate-sustained-limit", 100, "requests allowed per sustained window")
	fs.DurationVar(&c.RateSustainedWindow, "rate-sustained-window", time.Minute, "sustained window length")
	fs.IntVar(&c.RateBurstLimit, "rate-burst-limit", 10, "requests allowed per burst window")
	fs.DurationVar(&c.RateBurstWindow, "rate-burst-window", 5*time.Second, "burst sub-window length")
	fs.DurationVar(&c.RateIdleTTL, "rate-idle-ttl", 5*time.Minute, "evict clients idle longer than this")
	fs.IntVar(&c.RateMaxClients, "rate-max-clients", 100000, "max tracked clients (0 = unlimited)")
	fs.BoolVar(&c.RateFailClosed, "rate-fail-closed", false, "reject requests whose client key cannot be resolved")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "trusted reverse proxies between client and server (0 = ignore X-Forwarded-For)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 1<<20, "max request body size in bytes")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", 10*time.Second, "total per-request handler timeout (0 disables)")
	fs.StringVar(&c.CORSOrigins, "cors-origins", "", "comma-separated origins allowed CORS with credentials (empty = any origin, no credentials)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
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

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}

	if c.DBDSN == "" {
		errs = append(errs, fmt.Errorf("DB_DSN is required"))
	}

	switch c.RateStrategy {
	case "window", "bucket":
	default:
		errs = append(errs, fmt.Errorf("invalid RATE_STRATEGY %q (must be window|bucket)", c.RateStrategy))
	}
	if c.RateSustainedLimit <= 0 {
		errs = append(errs, fmt.Errorf("RATE_SUSTAINED_LIMIT must be positive (got %d)", c.RateSustainedLimit))
	}
	if c.RateSustainedWindow <= 0 {
		errs = append(errs, fmt.Errorf("RATE_SUSTAINED_WINDOW must be positive (got %v)", c.RateSustainedWindow))
	}
	if c.RateBurstLimit <= 0 {
		errs = append(errs, fmt.Errorf("RATE_BURST_LIMIT must be positive (got %d)", c.RateBurstLimit))
	}
	if c.RateBurstWindow <= 0 {
		errs = append(errs, fmt.Errorf("RATE_BURST_WINDOW must be positive (got %v)", c.RateBurstWindow))
	}
	if c.RateBurstWindow > 0 && c.RateSustainedWindow > 0 && c.RateBurstWindow > c.RateSustainedWindow {
		errs = append(errs, fmt.Errorf("RATE_BURST_WINDOW %v must not exceed RATE_SUSTAINED_WINDOW %v", c.RateBurstWindow, c.RateSustainedWindow))
	}
	if c.RateIdleTTL <= 0 {
		errs = append(errs, fmt.Errorf("RATE_IDLE_TTL must be positive (got %v)", c.RateIdleTTL))
	}
	if c.RateMaxClients < 0 {
		errs = append(errs, fmt.Errorf("RATE_MAX_CLIENTS must be >= 0 (got %d)", c.RateMaxClients))
	}

	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops))
	}
	if c.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive (got %d)", c.MaxBodyBytes))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be >= 0 (got %v)", c.RequestTimeout))
	}
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("CORS_ORIGINS entry %q must be scheme://host", o))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}
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

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
