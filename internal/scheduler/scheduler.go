// Package scheduler implements the admission scheduler: the state machine
// that assigns each incoming request a priority, tries a fast path through
// a bounded slot pool, and otherwise parks the request in a per-priority
// queue where it ages toward higher urgency until it either secures a slot
// or is rejected.
//
// The host runtime already allocates one goroutine per request; suspension
// is simply that goroutine blocking on a select between a resume signal and
// a promotion timer — there is no separate event loop.
package scheduler

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kestrelhq/admitgate/internal/config"
	"github.com/kestrelhq/admitgate/internal/counters"
	apierrors "github.com/kestrelhq/admitgate/internal/errors"
	"github.com/kestrelhq/admitgate/internal/logging"
	"github.com/kestrelhq/admitgate/internal/middleware"
	"github.com/kestrelhq/admitgate/internal/priority"
	"github.com/kestrelhq/admitgate/internal/queue"
	"github.com/kestrelhq/admitgate/internal/slot"
	"github.com/kestrelhq/admitgate/internal/tracing"
)

// Scheduler orchestrates the admit/queue/promote/dispatch/expire lifecycle
// for one HTTP server.
type Scheduler struct {
	cfg       *config.Config
	extractor *priority.Extractor
	pool      *slot.Pool
	queues    *queue.Queues[*requestState]
	avg       *counters.RollingAverage
	rate      *counters.RollingRate
	logger    *zap.Logger
	tracer    *tracing.Tracer
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithTracer attaches a tracer that spans the admit/promote/reject/dispatch
// transitions below. Omitted, the scheduler runs with a disabled (no-op)
// tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// New constructs a Scheduler from cfg. cfg is assumed already validated
// (config.Config.Validate).
func New(cfg *config.Config, opts ...Option) (*Scheduler, error) {
	avg, err := counters.NewRollingAverage(cfg.CounterSampleSize)
	if err != nil {
		return nil, err
	}
	rate, err := counters.NewRollingRate(cfg.CounterSampleSize)
	if err != nil {
		return nil, err
	}

	levels := cfg.MinPriority - priority.MaxUrgency + 1

	disabledTracer, err := tracing.New(tracing.Config{Enabled: false})
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:       cfg,
		extractor: priority.NewExtractor(cfg.MinPriority),
		pool:      slot.NewPool(cfg.MaxConcurrent),
		queues:    queue.New[*requestState](priority.MaxUrgency, levels, cfg.MaxQueueDepth),
		avg:       avg,
		rate:      rate,
		logger:    logging.Global(),
		tracer:    disabledTracer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Counters exposes the two rolling counters for telemetry wiring.
func (s *Scheduler) Counters() (*counters.RollingRate, *counters.RollingAverage) {
	return s.rate, s.avg
}

// Middleware returns the admission-control middleware. Mount it closest to
// the downstream handler chain it guards.
func (s *Scheduler) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.serve(w, r, next)
		})
	}
}

func (s *Scheduler) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	p := s.extractor.Extract(r)

	if p == priority.Bypass {
		next.ServeHTTP(w, r)
		return
	}

	requestID := middleware.RequestIDFromContext(r.Context())
	_, admitSpan := s.tracer.StartSpan(r.Context(), "scheduler.admit",
		attribute.String("request_id", requestID),
		attribute.Int("priority", p),
	)
	admitSpan.End()

	state := newRequestState(p)

	if s.queues.Len() == 0 && s.pool.TryAcquire(r.Context(), s.cfg.SlotAcquireTimeout) {
		// complete() drains on this request's behalf once the handler
		// returns and the slot is released.
		s.dispatch(w, r, next, state)
		return
	}

	if !s.queues.Enqueue(state.currentPriority, state) {
		s.reject(w, r, state, "queue full")
		s.drain()
		return
	}
	s.drain()

	s.waitAndDispatch(w, r, next, state)
}

// waitAndDispatch blocks the request's goroutine until state is either
// resumed by a drain or ages out past its promotion ladder.
func (s *Scheduler) waitAndDispatch(w http.ResponseWriter, r *http.Request, next http.Handler, state *requestState) {
	timeout := s.cfg.PromotionInterval

	for {
		timer := time.NewTimer(timeout)

		select {
		case <-state.resumeCh:
			timer.Stop()
			s.dispatch(w, r, next, state)
			return

		case <-timer.C:
			if !s.queues.Remove(state) {
				// A drain already polled this state out of the queue
				// concurrently with the timer firing; the slot transfer is
				// in flight, so wait for it instead of racing a rejection.
				<-state.resumeCh
				s.dispatch(w, r, next, state)
				return
			}

			cp := state.currentPriority
			if cp <= priority.MaxUrgency {
				s.reject(w, r, state, "aged out at max urgency")
				return
			}

			state.currentPriority = cp - 1
			if state.currentPriority > priority.MaxUrgency {
				timeout = s.cfg.PromotionInterval
			} else {
				remaining := s.cfg.RequestDeadline - time.Since(state.arrivalTime)
				if remaining < 0 {
					remaining = 0
				}
				timeout = remaining
			}

			_, promoteSpan := s.tracer.StartSpan(r.Context(), "scheduler.promote",
				attribute.String("request_id", middleware.RequestIDFromContext(r.Context())),
				attribute.Int("from_priority", cp),
				attribute.Int("to_priority", state.currentPriority),
			)
			promoteSpan.End()

			if !s.queues.Enqueue(state.currentPriority, state) {
				s.reject(w, r, state, "queue full on promotion")
				return
			}
		}
	}
}

// dispatch invokes the downstream handler, recording the service-start
// time first, and runs the completion callback once it returns or panics.
func (s *Scheduler) dispatch(w http.ResponseWriter, r *http.Request, next http.Handler, state *requestState) {
	ctx, span := s.tracer.StartSpan(r.Context(), "scheduler.dispatch",
		attribute.String("request_id", middleware.RequestIDFromContext(r.Context())),
		attribute.Int("original_priority", state.originalPriority),
		attribute.Int("dispatched_priority", state.currentPriority),
	)
	defer span.End()

	state.serviceStartTime = time.Now()
	defer s.complete(state)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// complete is the completion callback (fires once the downstream handler
// returns or panics). It is a no-op for an already-expired request.
func (s *Scheduler) complete(state *requestState) {
	if state.expired {
		return
	}
	elapsed := time.Since(state.serviceStartTime)
	s.avg.Record(elapsed.Milliseconds())
	s.rate.Record()
	s.pool.Release()
	s.drain()
}

// reject marks state expired and writes a 503. No slot is released because
// none was ever held.
func (s *Scheduler) reject(w http.ResponseWriter, r *http.Request, state *requestState, reason string) {
	state.expired = true
	requestID := middleware.RequestIDFromContext(r.Context())

	_, span := s.tracer.StartSpan(r.Context(), "scheduler.reject",
		attribute.String("request_id", requestID),
		attribute.String("reason", reason),
		attribute.Int("original_priority", state.originalPriority),
		attribute.Int("current_priority", state.currentPriority),
	)
	span.End()

	apierrors.ErrServiceUnavailable.WithRequestID(requestID).WriteJSON(w)
	s.logger.Info("request rejected",
		zap.String("request_id", requestID),
		zap.String("reason", reason),
		zap.Int("original_priority", state.originalPriority),
		zap.Int("current_priority", state.currentPriority),
	)
}

// drain repeatedly acquires a free slot and hands it to the most urgent
// waiting request, stopping once the queue is empty or no slot is free.
func (s *Scheduler) drain() {
	for s.queues.Len() > 0 {
		if !s.pool.TryAcquire(context.Background(), 0) {
			return
		}
		state, ok := s.queues.PollHighest()
		if !ok {
			s.pool.Release()
			return
		}
		state.resumeCh <- struct{}{}
	}
}
