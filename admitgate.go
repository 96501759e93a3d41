// Package admitgate wires the admission scheduler, its Prometheus
// telemetry, and the ambient middleware stack (panic recovery, request
// IDs, access logging) into a single http.Handler in front of a caller-
// supplied downstream handler.
//
// The chain is assembled as a fixed slot list run through
// internal/middleware.Builder rather than a config-driven one, since the
// scheduler is the one thing this module admits requests through.
package admitgate

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/kestrelhq/admitgate/internal/config"
	"github.com/kestrelhq/admitgate/internal/logging"
	"github.com/kestrelhq/admitgate/internal/metrics"
	"github.com/kestrelhq/admitgate/internal/middleware"
	"github.com/kestrelhq/admitgate/internal/scheduler"
	"github.com/kestrelhq/admitgate/internal/tracing"
)

// Gateway guards a downstream http.Handler with priority-aware admission
// control.
type Gateway struct {
	cfg       *config.Config
	scheduler *scheduler.Scheduler
	metrics   *metrics.Collector
	tracer    *tracing.Tracer
	next      http.Handler
}

// Option configures a Gateway at construction time.
type Option func(*options)

type options struct {
	next    http.Handler
	tracing tracing.Config
}

// WithHandler sets the downstream handler the admission scheduler guards.
// Defaults to http.NotFoundHandler when unset.
func WithHandler(h http.Handler) Option {
	return func(o *options) { o.next = h }
}

// WithTracing enables OpenTelemetry spans around both the request's root
// handler and the scheduler's own admit/promote/reject/dispatch
// transitions. Unset, the Gateway runs with tracing disabled.
func WithTracing(cfg tracing.Config) Option {
	return func(o *options) { o.tracing = cfg }
}

// New builds a Gateway from cfg. It returns cfg.Validate's error if cfg is
// invalid (a Config from Loader.Load or Loader.Parse has already passed it).
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Every Gateway gets a component-tagged global logger unless the
	// caller already bootstrapped a more specific one (e.g. cmd/admitgated's
	// stdout logger via logging.New + logging.SetGlobal).
	if !logging.Bootstrapped() {
		logging.Bootstrap(
			zap.String("component", "admitgate"),
			zap.Int("min_priority", cfg.MinPriority),
			zap.Int("max_concurrent", cfg.MaxConcurrent),
		)
	}

	o := &options{next: http.NotFoundHandler()}
	for _, opt := range opts {
		opt(o)
	}

	tracer, err := tracing.New(o.tracing)
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(cfg, scheduler.WithTracer(tracer))
	if err != nil {
		return nil, err
	}
	rate, avg := sched.Counters()

	return &Gateway{
		cfg:       cfg,
		scheduler: sched,
		metrics:   metrics.NewCollector(metrics.Source{Rate: rate, Average: avg}),
		tracer:    tracer,
		next:      o.next,
	}, nil
}

// Metrics returns the telemetry collector backing the gateway's two
// gauges, for mounting behind promhttp.HandlerFor.
func (g *Gateway) Metrics() *metrics.Collector {
	return g.metrics
}

// Config returns the configuration the Gateway was built from.
func (g *Gateway) Config() *config.Config {
	return g.cfg
}

// Shutdown flushes the tracer, if tracing was enabled. It is a no-op
// otherwise.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.tracer.Shutdown(ctx)
}

// Handler returns the complete http.Handler: a root trace span, panic
// recovery, request ID tagging, and access logging sit outside the
// admission gate so that every request — admitted, queued, or rejected —
// gets traced, logged, and carries a request ID.
func (g *Gateway) Handler() http.Handler {
	chain := middleware.NewBuilder().
		Use(g.tracer.Middleware()).
		Use(middleware.Recovery()).
		Use(middleware.RequestID()).
		Use(middleware.AccessLog()).
		Use(g.scheduler.Middleware())
	return chain.Handler(g.next)
}
