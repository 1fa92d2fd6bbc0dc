package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quickapi/quickapi/internal/health"
	"github.com/quickapi/quickapi/internal/httpmw"
	"github.com/quickapi/quickapi/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	// StartTime anchors the uptime reported by the liveness body.
	// Zero means "when the handler was built".
	StartTime time.Time

	// APIRoutes mounts application routes on the main router.
	APIRoutes func(chi.Router)

	Health    health.Probe
	Readiness health.Probe

	ClientIPOpts httpmw.ClientIPOptions
	MaxBodyBytes int64

	// CORSOrigins lists origins allowed cross-site access with credentials.
	// Empty allows any origin without credentials.
	CORSOrigins []string

	// RequestTimeout bounds total handler time; 0 disables the middleware.
	RequestTimeout time.Duration

	// RateLimitMW wraps the handler with admission control; nil disables it.
	RateLimitMW func(http.Handler) http.Handler
	// MetricsMW wraps the handler with request instrumentation; nil disables it.
	MetricsMW func(http.Handler) http.Handler

	TraceEnabled bool

	UseRecoverMW bool
	OnPanic      func()
}
