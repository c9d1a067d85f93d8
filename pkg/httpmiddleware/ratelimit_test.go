package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

var epoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func fromIP(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.RemoteAddr = ip + ":12345"
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderLimit(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	h := RateLimit(RateLimitConfig{Max: 5, Window: time.Minute, Clock: clock})(okHandler())

	for i := range 5 {
		w := serve(h, fromIP("192.168.1.1"))
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, itoa(4-i), w.Header().Get("X-RateLimit-Remaining"))
	}
}

func itoa(i int) string { return string(rune('0' + i)) }

func TestRateLimit_OverLimit(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute, Clock: clock})(okHandler())

	serve(h, fromIP("10.0.0.1"))
	serve(h, fromIP("10.0.0.1"))
	w := serve(h, fromIP("10.0.0.1"))

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var code int
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		if key == "code" {
			v, err := d.Int()
			code = v
			return err
		}
		return d.Skip()
	}))
	assert.Equal(t, http.StatusTooManyRequests, code)

	assert.Equal(t, http.StatusOK, serve(h, fromIP("10.0.0.2")).Code, "other clients are unaffected")
}

func TestRateLimit_SlidingWindow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	h := RateLimit(RateLimitConfig{Max: 4, Window: time.Minute, Clock: clock})(okHandler())

	for range 4 {
		require.Equal(t, http.StatusOK, serve(h, fromIP("10.0.0.1")).Code)
	}

	// A quarter into the next window three quarters of the previous count
	// (3 of 4) still apply.
	clock.Advance(75 * time.Second)
	assert.Equal(t, http.StatusOK, serve(h, fromIP("10.0.0.1")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, fromIP("10.0.0.1")).Code)

	// Two full windows later the client starts fresh.
	clock.Advance(2 * time.Minute)
	for range 4 {
		assert.Equal(t, http.StatusOK, serve(h, fromIP("10.0.0.1")).Code)
	}
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: func(r *http.Request) string { return r.Header.Get("X-Tenant") },
	})(okHandler())

	req := func(tenant string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Tenant", tenant)
		return r
	}

	assert.Equal(t, http.StatusOK, serve(h, req("a")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, req("a")).Code)
	assert.Equal(t, http.StatusOK, serve(h, req("b")).Code)
}

func TestClientKey(t *testing.T) {
	r := fromIP("192.168.1.1")
	assert.Equal(t, "ip:192.168.1.1", ClientKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
	assert.Equal(t, "ip:203.0.113.50", ClientKey(r))

	r.Header.Set("api_key", "secret")
	byHeader := ClientKey(r)
	assert.Contains(t, byHeader, "key:")
	assert.NotContains(t, byHeader, "secret")

	r2 := fromIP("192.168.1.9")
	r2.Header.Set("Authorization", "Bearer secret")
	assert.Equal(t, byHeader, ClientKey(r2), "same key, same bucket")
}

func TestClientIP_RealIP(t *testing.T) {
	r := fromIP("192.168.1.1")
	r.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", ClientIP(r))
}
