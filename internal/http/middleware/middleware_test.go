package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(mw gin.HandlerFunc, handler gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(mw)
	if handler == nil {
		handler = func(c *gin.Context) { c.Status(http.StatusOK) }
	}
	r.Any("/", handler)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

//
// Request ID
//

func TestRequestID_Generates(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := serve(RequestID(), nil, req)

	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("X-Request-ID not set")
	}
}

func TestRequestID_ReusesInbound(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "rid-abc")
	w := serve(RequestID(), nil, req)

	if got := w.Header().Get("X-Request-ID"); got != "rid-abc" {
		t.Fatalf("X-Request-ID = %q; want inbound value reused", got)
	}
}

//
// Recovery
//

func TestRecovery_PanicBecomesJSON500(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Logger(), Recovery())
	r.GET("/", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "request_id") {
		t.Fatalf("body = %s; want request_id for correlation", w.Body.String())
	}
}

//
// Idempotency validation
//

func TestIdempotencyValidator_AbsentHeaderIsNoOp(t *testing.T) {
	var key string
	var present bool
	mw := IdempotencyValidator(IdempotencyOptions{}, nil)
	handler := func(c *gin.Context) {
		key, present = GetIdempotencyKey(c)
		c.Status(http.StatusOK)
	}

	w := serve(mw, handler, httptest.NewRequest(http.MethodPost, "/", nil))
	if w.Code != http.StatusOK || present || key != "" {
		t.Fatalf("absent header must pass through untouched: %d %q %v", w.Code, key, present)
	}
}

func TestIdempotencyValidator_StashesKey(t *testing.T) {
	var key string
	mw := IdempotencyValidator(IdempotencyOptions{}, nil)
	handler := func(c *gin.Context) {
		key, _ = GetIdempotencyKey(c)
		c.Status(http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderIdempotencyKey, "order-42:retry.1")
	serve(mw, handler, req)

	if key != "order-42:retry.1" {
		t.Fatalf("key = %q; want normalized header value", key)
	}
}

func TestIdempotencyValidator_RejectsMalformed(t *testing.T) {
	mw := IdempotencyValidator(IdempotencyOptions{MaxLen: 8}, nil)

	for _, bad := range []string{"has spaces", "über-key", "way-too-long-key"} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(HeaderIdempotencyKey, bad)
		w := serve(mw, nil, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("key %q: status = %d; want 400", bad, w.Code)
		}
		if !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Errorf("key %q: body = %s", bad, w.Body.String())
		}
	}
}

func TestIdempotencyValidator_MarksReplay(t *testing.T) {
	lookup := func(_ context.Context, key string, _ time.Time) (bool, error) {
		return key == "seen", nil
	}
	mw := IdempotencyValidator(IdempotencyOptions{}, lookup)

	var replay, bypass bool
	handler := func(c *gin.Context) {
		replay, bypass = IsReplay(c), IsRateBypass(c)
		c.Status(http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderIdempotencyKey, "seen")
	serve(mw, handler, req)
	if !replay || !bypass {
		t.Fatalf("replay=%v bypass=%v; want both true for a known key", replay, bypass)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderIdempotencyKey, "fresh")
	serve(mw, handler, req)
	if replay || bypass {
		t.Fatalf("replay=%v bypass=%v; want both false for a fresh key", replay, bypass)
	}
}

//
// Rate limiting
//

func TestRateLimiter_EnforcesBurst(t *testing.T) {
	rl := NewRateLimiter(0, 2, KeyByUserOrIP())
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	statuses := make([]int, 3)
	for i := range statuses {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		statuses[i] = w.Code
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("burst requests rejected: %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("third request = %d; want 429", statuses[2])
	}
}

func TestRateLimiter_429CarriesRetryAfter(t *testing.T) {
	rl := NewRateLimiter(0, 1, KeyByUserOrIP())
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if i == 1 {
			if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
				t.Fatalf("status = %d Retry-After = %q", w.Code, w.Header().Get("Retry-After"))
			}
			if !strings.Contains(w.Body.String(), "rate_limited") {
				t.Fatalf("body = %s; want rate_limited", w.Body.String())
			}
		}
	}
}

func TestRateLimiter_ReplayBypasses(t *testing.T) {
	lookup := func(_ context.Context, _ string, _ time.Time) (bool, error) { return true, nil }
	rl := NewRateLimiter(0, 1, KeyByUserOrIP())

	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup), rl.Handler())
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Exhaust the single token without a key, then replay with one.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("setup request: %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderIdempotencyKey, "key-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("replay = %d; replays must bypass the limiter", w.Code)
	}
}

//
// Security headers
//

func TestSecurityHeaders_Baseline(t *testing.T) {
	w := serve(SecurityHeaders(SecurityOptions{}), nil, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Header().Get("X-Content-Type-Options") != "nosniff" ||
		w.Header().Get("X-Frame-Options") != "DENY" ||
		w.Header().Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers missing: %+v", w.Header())
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must be opt-in")
	}
}

func TestSecurityHeaders_HSTSOnlyOverHTTPS(t *testing.T) {
	mw := SecurityHeaders(SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour})

	w := serve(mw, nil, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS emitted for plain HTTP")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w = serve(mw, nil, req)
	hsts := w.Header().Get("Strict-Transport-Security")
	if !strings.Contains(hsts, "max-age=3600") {
		t.Fatalf("HSTS = %q; want max-age=3600 behind TLS-terminating proxy", hsts)
	}
}

func TestSecurityHeaders_ExposesRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), SecurityHeaders(SecurityOptions{}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "X-Request-ID") {
		t.Fatalf("Access-Control-Expose-Headers = %q", got)
	}
}
