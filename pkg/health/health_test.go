package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type body struct {
	Status string
	Reason string
	Checks map[string]string
}

func decode(t *testing.T, w *httptest.ResponseRecorder) body {
	t.Helper()
	var b body
	b.Checks = map[string]string{}
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			b.Status, err = d.Str()
		case "reason":
			b.Reason, err = d.Str()
		case "checks":
			err = d.Obj(func(d *jx.Decoder, name string) error {
				v, err := d.Str()
				b.Checks[name] = v
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	require.NoError(t, err)
	return b
}

func ok(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func live(h *Health) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	return w
}

func ready(h *Health) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	return w
}

func probeN(s *state, n int) {
	for range n {
		s.probe(context.Background())
	}
}

func TestLive_NoChecks(t *testing.T) {
	w := live(New(nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestLive_FailureThreshold(t *testing.T) {
	h := New(nil)
	h.Live(Check{Name: "goroutines", Func: failing("too many")})
	s := h.liveness[0]

	probeN(s, 2)
	assert.Equal(t, http.StatusOK, live(h).Code, "two failures stay under the threshold")

	probeN(s, 1)
	w := live(h)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	b := decode(t, w)
	assert.Equal(t, "unhealthy", b.Status)
	assert.Equal(t, "too many", b.Checks["goroutines"])
}

func TestLive_Recovery(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	h := New(nil)
	h.Live(Check{
		Name:             "flappy",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Func: func(context.Context) error {
			if fail.Load() {
				return errors.New("down")
			}
			return nil
		},
	})
	s := h.liveness[0]

	probeN(s, 1)
	require.False(t, s.healthy.Load())

	fail.Store(false)
	probeN(s, 1)
	assert.False(t, s.healthy.Load(), "one success is below the success threshold")
	probeN(s, 1)
	assert.True(t, s.healthy.Load())
	assert.NoError(t, s.err())
}

func TestReady_Gate(t *testing.T) {
	h := New(nil)
	h.Ready(Check{Name: "postgres", Func: ok})

	w := ready(h)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	b := decode(t, w)
	assert.Equal(t, "not ready", b.Reason)
	assert.Equal(t, "ok", b.Checks["postgres"])
	assert.False(t, h.IsReady())

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, ready(h).Code)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, ready(h).Code)
}

func TestReady_OneFailingCheck(t *testing.T) {
	h := New(nil)
	h.SetReady(true)
	h.Ready(Check{Name: "postgres", Func: ok})
	h.Ready(Check{Name: "redis", Func: failing("connection refused"), FailureThreshold: 1})
	probeN(h.readiness[1], 1)

	w := ready(h)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	b := decode(t, w)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "connection refused"}, b.Checks)
	assert.False(t, h.IsReady())
}

func TestCheckTimeout(t *testing.T) {
	h := New(nil)
	h.Ready(Check{
		Name:             "slow",
		Timeout:          10 * time.Millisecond,
		FailureThreshold: 1,
		Func: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	probeN(h.readiness[0], 1)
	assert.ErrorIs(t, h.readiness[0].err(), context.DeadlineExceeded)
}

func TestStart_ProbesOnTicker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := New(clock)

	var calls atomic.Int32
	h.Live(Check{Name: "counter", Func: func(context.Context) error {
		calls.Add(1)
		return nil
	}})

	h.Start(context.Background(), time.Second)
	defer h.Stop()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentReads(t *testing.T) {
	h := New(nil)
	h.SetReady(true)
	h.Live(Check{Name: "a", Func: ok})
	h.Ready(Check{Name: "b", Func: failing("x")})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(3)
		go func() { defer wg.Done(); live(h) }()
		go func() { defer wg.Done(); ready(h) }()
		go func() { defer wg.Done(); h.IsReady() }()
	}
	probeN(h.readiness[0], 3)
	wg.Wait()
	assert.False(t, h.IsReady())
}

func TestPing(t *testing.T) {
	assert.NoError(t, Ping(pingerFunc(ok))(context.Background()))

	err := Ping(pingerFunc(failing("refused")))(context.Background())
	assert.EqualError(t, err, "ping: refused")
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestGoroutines(t *testing.T) {
	assert.NoError(t, Goroutines(100000)(context.Background()))
	assert.Error(t, Goroutines(0)(context.Background()))
}

func TestGCPause(t *testing.T) {
	assert.NoError(t, GCPause(time.Hour)(context.Background()))
}
