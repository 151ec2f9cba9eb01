package shield

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
}

// WHAT: every response carries the configured security headers.
// WHY: the API is exposed directly; headers are the first defense line.
func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

// WHAT: each request gets a distinct trace id on the response and a
// scoped logger in the context.
// WHY: cross-referencing logs with client reports needs the id.
func TestTraceID(t *testing.T) {
	var logger *slog.Logger
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		logger = GetLogger(r.Context())
	})
	h := TraceID(slog.New(slog.NewTextHandler(io.Discard, nil)))(inner)

	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, httptest.NewRequest(http.MethodGet, "/", nil))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/", nil))

	id1, id2 := rec1.Header().Get("X-Trace-ID"), rec2.Header().Get("X-Trace-ID")
	if id1 == "" || id1 == id2 {
		t.Errorf("trace ids = %q, %q, want distinct non-empty", id1, id2)
	}
	if logger == nil {
		t.Error("request logger missing from context")
	}
}

// WHAT: a client exceeding its burst gets 429 with Retry-After, other
// clients are unaffected.
// WHY: limiting is per client IP, not global.
func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerSecond: 1, Burst: 2, MaxIdle: 100})
	h := rl.Middleware(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if send("10.0.0.1:1234") != 200 || send("10.0.0.1:1234") != 200 {
		t.Fatal("burst requests should pass")
	}
	if code := send("10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Errorf("over-burst status = %d, want 429", code)
	}
	if code := send("10.0.0.2:1234"); code != 200 {
		t.Errorf("other client status = %d, want 200", code)
	}
}

// WHAT: HEAD requests reach GET handlers.
// WHY: health checkers probe with HEAD.
func TestHeadToGet(t *testing.T) {
	var method string
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		method = r.Method
	})
	rec := httptest.NewRecorder()
	HeadToGet(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/", nil))
	if method != http.MethodGet {
		t.Errorf("method = %q, want GET", method)
	}
}
