// Package health serves the /livez and /readyz probes.
//
// Every check runs on its own ticker. A check turns unhealthy only after
// FailureThreshold consecutive failures and healthy again after
// SuccessThreshold consecutive successes, so a single slow ping does not
// take the API out of rotation.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/jonboulle/clockwork"
)

// CheckFunc returns nil when the dependency it probes is usable.
type CheckFunc func(ctx context.Context) error

// Check describes one probe.
type Check struct {
	Name    string
	Timeout time.Duration
	Func    CheckFunc
	// FailureThreshold defaults to 3, SuccessThreshold to 1.
	FailureThreshold int
	SuccessThreshold int
}

type state struct {
	Check

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// Owned by the probe goroutine.
	fails, oks int
}

func newState(c Check) *state {
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	s := &state{Check: c}
	s.healthy.Store(true)
	return s
}

func (s *state) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	err := s.Func(ctx)
	s.lastErr.Store(&err)
	if err != nil {
		s.oks = 0
		if s.fails++; s.fails >= s.FailureThreshold {
			s.healthy.Store(false)
		}
		return
	}
	s.fails = 0
	if s.oks++; s.oks >= s.SuccessThreshold {
		s.healthy.Store(true)
	}
}

func (s *state) err() error {
	if p := s.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Health holds the registered probes. The zero value is not usable; call New.
type Health struct {
	clock clockwork.Clock
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*state
	readiness []*state
	cancel    context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New(clock clockwork.Clock) *Health {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Health{clock: clock}
}

// Live registers a liveness check.
func (h *Health) Live(c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newState(c))
}

// Ready registers a readiness check.
func (h *Health) Ready(c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newState(c))
}

// Start probes every check immediately and then once per interval until
// ctx is done or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	all := append(append([]*state(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, s := range all {
		go h.loop(ctx, s, interval)
	}
}

func (h *Health) loop(ctx context.Context, s *state, interval time.Duration) {
	t := h.clock.NewTicker(interval)
	defer t.Stop()

	s.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			s.probe(ctx)
		}
	}
}

// Stop halts probing. It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate, closed during startup and
// shutdown.
func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports whether the gate is open and every readiness check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, s := range h.snapshot(&h.readiness) {
		if !s.healthy.Load() {
			return false
		}
	}
	return true
}

func (h *Health) snapshot(list *[]*state) []*state {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*state(nil), *list...)
}

// LiveEndpoint answers /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	write(w, true, h.snapshot(&h.liveness))
}

// ReadyEndpoint answers /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	write(w, h.ready.Load(), h.snapshot(&h.readiness))
}

// write renders {"status": "ok"|"unhealthy", "checks": {name: "ok"|error}}.
func write(w http.ResponseWriter, gate bool, checks []*state) {
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	ok := gate
	for _, s := range checks {
		ok = ok && s.healthy.Load()
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	if ok {
		e.Str("ok")
	} else {
		e.Str("unhealthy")
	}
	if !gate {
		e.FieldStart("reason")
		e.Str("not ready")
	}
	if len(checks) > 0 {
		e.FieldStart("checks")
		e.ObjStart()
		for _, s := range checks {
			e.FieldStart(s.Name)
			switch err := s.err(); {
			case s.healthy.Load():
				e.Str("ok")
			case err != nil:
				e.Str(err.Error())
			default:
				e.Str("failing")
			}
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write(e.Bytes())
}
