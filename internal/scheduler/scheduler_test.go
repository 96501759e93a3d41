package scheduler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrelhq/admitgate/internal/config"
)

func newTestScheduler(t *testing.T, mutate func(*config.Config)) *Scheduler {
	t.Helper()
	cfg := config.Default()
	cfg.MaxConcurrent = 1
	cfg.MaxQueueDepth = 10
	cfg.SlotAcquireTimeout = 20 * time.Millisecond
	cfg.PromotionInterval = 30 * time.Millisecond
	cfg.RequestDeadline = 150 * time.Millisecond
	cfg.MinPriority = 5
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func sleepyHandler(d time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(d)
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBypassSkipsAdmission(t *testing.T) {
	s := newTestScheduler(t, nil)
	handler := s.Middleware()(sleepyHandler(0))

	rec := doRequest(handler, "/?priority=0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if s.pool.Len() != 0 {
		t.Errorf("pool.Len() = %d, want 0 (bypass must not consume a slot)", s.pool.Len())
	}
	if s.rate.Count() != 0 {
		t.Errorf("rate.Count() = %d, want 0 (bypass must not update counters)", s.rate.Count())
	}
}

func TestFastPathDispatchesAndReleases(t *testing.T) {
	s := newTestScheduler(t, nil)
	handler := s.Middleware()(sleepyHandler(0))

	rec := doRequest(handler, "/?priority=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if s.pool.Len() != 0 {
		t.Errorf("pool.Len() = %d, want 0 after completion", s.pool.Len())
	}
	if s.rate.Count() != 1 {
		t.Errorf("rate.Count() = %d, want 1", s.rate.Count())
	}
}

func TestQueueFullRejects(t *testing.T) {
	s := newTestScheduler(t, func(c *config.Config) {
		c.MaxConcurrent = 1
		c.MaxQueueDepth = 0
		c.SlotAcquireTimeout = 10 * time.Millisecond
	})
	handler := s.Middleware()(sleepyHandler(100 * time.Millisecond))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		doRequest(handler, "/?priority=5")
	}()
	time.Sleep(20 * time.Millisecond) // let A take the only slot

	rec := doRequest(handler, "/?priority=5")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	wg.Wait()
}

func TestPromotionEventuallyDispatches(t *testing.T) {
	s := newTestScheduler(t, func(c *config.Config) {
		c.MaxConcurrent = 1
		c.MaxQueueDepth = 10
		c.PromotionInterval = 20 * time.Millisecond
		c.RequestDeadline = 500 * time.Millisecond
		c.SlotAcquireTimeout = 5 * time.Millisecond
		c.MinPriority = 5
	})
	handler := s.Middleware()(sleepyHandler(120 * time.Millisecond))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		doRequest(handler, "/?priority=5") // A, holds the slot for 120ms
	}()
	time.Sleep(10 * time.Millisecond)

	rec := doRequest(handler, "/?priority=5") // B: queued, promoted, then dispatched
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (B should eventually dispatch)", rec.Code)
	}
	wg.Wait()
}

func TestAgeOutRejection(t *testing.T) {
	s := newTestScheduler(t, func(c *config.Config) {
		c.MaxConcurrent = 1
		c.MaxQueueDepth = 10
		c.PromotionInterval = 20 * time.Millisecond
		c.RequestDeadline = 60 * time.Millisecond
		c.SlotAcquireTimeout = 5 * time.Millisecond
		c.MinPriority = 5
	})
	handler := s.Middleware()(sleepyHandler(300 * time.Millisecond))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		doRequest(handler, "/?priority=5") // A, holds the slot well past B's deadline
	}()
	time.Sleep(10 * time.Millisecond)

	rec := doRequest(handler, "/?priority=5") // B ages out before A ever releases
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (B should age out)", rec.Code)
	}
	wg.Wait()
}

func TestCrossPriorityPreemption(t *testing.T) {
	s := newTestScheduler(t, func(c *config.Config) {
		c.MaxConcurrent = 1
		c.MaxQueueDepth = 10
		c.PromotionInterval = time.Second // long enough not to fire during this test
		c.RequestDeadline = time.Second
		c.SlotAcquireTimeout = 5 * time.Millisecond
		c.MinPriority = 5
	})

	var order []int
	var mu sync.Mutex
	record := func(p int) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		})
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		handler := s.Middleware()(sleepyHandler(80 * time.Millisecond))
		doRequest(handler, "/?priority=5") // A holds the only slot
	}()
	time.Sleep(10 * time.Millisecond)

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Middleware()(record(5)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?priority=5", nil))
	}()
	time.Sleep(5 * time.Millisecond)
	go func() {
		defer wg.Done()
		s.Middleware()(record(5)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?priority=5", nil))
	}()
	time.Sleep(5 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Middleware()(record(1)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?priority=1", nil))
	}()

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("order = %v, want 3 entries", order)
	}
	if order[0] != 1 {
		t.Errorf("first dispatched priority = %d, want 1 (it should preempt both waiting priority-5 requests)", order[0])
	}
}

func TestSlotBoundUnderConcurrency(t *testing.T) {
	s := newTestScheduler(t, func(c *config.Config) {
		c.MaxConcurrent = 3
		c.MaxQueueDepth = 50
		c.PromotionInterval = 20 * time.Millisecond
		c.RequestDeadline = 300 * time.Millisecond
		c.SlotAcquireTimeout = 10 * time.Millisecond
	})

	var active, maxActive int64
	handler := s.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&active, 1)
		for {
			m := atomic.LoadInt64(&maxActive)
			if n <= m || atomic.CompareAndSwapInt64(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		w.WriteHeader(http.StatusOK)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doRequest(handler, fmt.Sprintf("/?priority=%d", 1+i%5))
		}(i)
	}
	wg.Wait()

	if maxActive > 3 {
		t.Errorf("max concurrent handler executions = %d, want <= 3", maxActive)
	}
}

func TestRejectionNeverDispatches(t *testing.T) {
	s := newTestScheduler(t, func(c *config.Config) {
		c.MaxConcurrent = 1
		c.MaxQueueDepth = 0
		c.SlotAcquireTimeout = 5 * time.Millisecond
	})

	var dispatched int64
	handler := s.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&dispatched, 1)
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		doRequest(handler, "/?priority=5")
	}()
	time.Sleep(15 * time.Millisecond)

	rec := doRequest(handler, "/?priority=5")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	wg.Wait()

	if atomic.LoadInt64(&dispatched) != 1 {
		t.Errorf("handler ran %d times, want exactly 1 (rejected request must never dispatch)", dispatched)
	}
}
