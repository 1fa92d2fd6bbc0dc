package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quickapi/quickapi/internal/cfg"
	"github.com/quickapi/quickapi/internal/health"
	"github.com/quickapi/quickapi/internal/httpmw"
	"github.com/quickapi/quickapi/internal/httpserver"
	"github.com/quickapi/quickapi/internal/itemhttp"
	"github.com/quickapi/quickapi/internal/log"
	"github.com/quickapi/quickapi/internal/metrics"
	"github.com/quickapi/quickapi/internal/opshttp"
	"github.com/quickapi/quickapi/internal/otelx"
	"github.com/quickapi/quickapi/internal/prof"
	"github.com/quickapi/quickapi/internal/ratelimit"
	"github.com/quickapi/quickapi/internal/store"
	v "github.com/quickapi/quickapi/internal/version"
)

func main() {
	start := time.Now()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix QUICKAPI_ and validate
	cfg.FillFromEnv(flag.CommandLine, "QUICKAPI_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:        v.AppName,
		Level:      lvl,
		JsonFormat: conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"db_dsn", conf.DBDSN,
		"rate_strategy", conf.RateStrategy,
		"rate_sustained_limit", conf.RateSustainedLimit,
		"rate_sustained_window", conf.RateSustainedWindow,
		"rate_burst_limit", conf.RateBurstLimit,
		"rate_burst_window", conf.RateBurstWindow,
		"rate_idle_ttl", conf.RateIdleTTL,
		"rate_max_clients", conf.RateMaxClients,
		"rate_fail_closed", conf.RateFailClosed,
		"trusted_hops", conf.TrustedHops,
		"request_timeout", conf.RequestTimeout,
		"cors_origins", conf.CORSOrigins,
		"enable_pprof", conf.EnablePprof,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":     v.AppName,
			"version": vi.Version,
			"commit":  vi.Commit,
			"source":  "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(err == nil && conf.EnablePyroscope)
	defer func() { stopProf() }()

	// Insecure is true because we only write to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:  conf.EnableTracing,
		Endpoint: conf.OTLPEndpoint,
		Insecure: true,
		Sample:   conf.TraceSample,
		Service:  v.AppName,
		Version:  vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	db, err := store.Open(ctx, conf.DBDSN)
	if err != nil {
		L.Error(ctx, err, "failed to open database", "db_dsn", conf.DBDSN)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if err := db.Migrate(); err != nil {
		L.Error(ctx, err, "failed to migrate schema")
		os.Exit(1)
	}
	m.SetDBUp(true)

	limiter, err := ratelimit.New(ctx, ratelimit.Config{
		Strategy:        ratelimit.Strategy(conf.RateStrategy),
		SustainedLimit:  conf.RateSustainedLimit,
		SustainedWindow: conf.RateSustainedWindow,
		BurstLimit:      conf.RateBurstLimit,
		BurstWindow:     conf.RateBurstWindow,
		IdleTTL:         conf.RateIdleTTL,
		MaxClients:      conf.RateMaxClients,
		FailClosed:      conf.RateFailClosed,
	},
		// increment prometheus counter on each denied request
		ratelimit.WithOnDenied(func(key string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time a client is denied each time it is evicted
		ratelimit.WithOnFirstDenied(func(key string) {
			L.Warn(ctx, "rate limit triggered", "client_key", key)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some are evicted")
		}),
	)
	if err != nil {
		L.Error(ctx, err, "invalid rate limit config")
		os.Exit(1)
	}

	items := itemhttp.NewHandler(store.NewItemRepo(db), m)

	// toggle for server shutdown
	var gate health.ShutdownGate

	dbProbe := health.CheckFunc(func(ctx context.Context) error {
		err := db.Ping(ctx)
		m.SetDBUp(err == nil)
		return err
	})
	readiness := health.All(gate.Probe(), dbProbe)

	apiRoutes := func(r chi.Router) {
		r.Get("/", rootHandler(vi))
		r.Get("/info", health.InfoHandler(vi))
		r.Get("/system", health.SystemHandler(start, dbProbe))
		r.Mount("/api/v1/items", items.Routes())
	}

	apiHTTPStop, err := httpserver.Start(
		ctx,
		&httpserver.Options{
			Port:      conf.HTTPPort,
			Logger:    L,
			StartTime: start,
			Health:    health.Fixed(true, ""),
			Readiness: readiness,
			APIRoutes: apiRoutes,
			ClientIPOpts: httpmw.ClientIPOptions{
				TrustedHops: conf.TrustedHops,
			},
			MaxBodyBytes:   conf.MaxBodyBytes,
			RequestTimeout: conf.RequestTimeout,
			CORSOrigins:    splitOrigins(conf.CORSOrigins),
			RateLimitMW:  limiter.Middleware,
			MetricsMW:    m.Middleware,
			TraceEnabled: conf.EnableTracing,
			UseRecoverMW: true,
			OnPanic:      m.IncHttpPanic,
		},
	)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	// admin/ops listener for metrics, health checks, pprof
	// never routed publicly
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// export tracked-client count for capacity monitoring
	go func() {
		t := time.NewTicker(15 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.SetRateLimitClients(limiter.Len())
			}
		}
	}()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness to drain connections before closing listeners
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining")

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(5 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "api http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func rootHandler(vi v.Info) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprintf(w, `{"name":%q,"version":%q,"docs":"/info"}`+"\n", vi.AppName, vi.Version)
	}
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
