package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeClock is advanced by hand so refills are deterministic.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func limitedRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header(requestIDHeader, "rid-rl"); c.Next() })
	r.Use(Identity(), rl.Handler())
	r.POST("/chat", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func send(r *gin.Engine, method, target, user, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	if ip != "" {
		req.RemoteAddr = ip + ":5555"
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_DeniesThenRefills(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := NewRateLimiter(0.5, 2, KeyByUserOrIP())
	rl.now = clk.now
	r := limitedRouter(rl)

	before := testutil.ToFloat64(rateLimited.WithLabelValues("user"))
	for i := 0; i < 2; i++ {
		if w := send(r, http.MethodPost, "/chat", "alice", ""); w.Code != http.StatusNoContent {
			t.Fatalf("burst request %d = %d", i, w.Code)
		}
	}

	w := send(r, http.MethodPost, "/chat", "alice", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("over budget = %d; want 429", w.Code)
	}
	// 0.5 tokens/s: the next token is two seconds away.
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q; want 2", got)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["code"] != "rate_limited" || body["request_id"] != "rid-rl" {
		t.Fatalf("body = %v", body)
	}
	if d := testutil.ToFloat64(rateLimited.WithLabelValues("user")) - before; d != 1 {
		t.Fatalf("rejections delta = %v", d)
	}

	// The refused request did not spend a token.
	clk.advance(2 * time.Second)
	if w := send(r, http.MethodPost, "/chat", "alice", ""); w.Code != http.StatusNoContent {
		t.Fatalf("after refill = %d", w.Code)
	}
}

func TestRateLimiter_BucketsPerCaller(t *testing.T) {
	rl := NewRateLimiter(1, 1, KeyByUserOrIP())
	rl.now = (&fakeClock{t: time.Unix(0, 0)}).now
	r := limitedRouter(rl)

	if send(r, http.MethodPost, "/chat", "alice", "").Code != http.StatusNoContent ||
		send(r, http.MethodPost, "/chat", "alice", "").Code != http.StatusTooManyRequests {
		t.Fatalf("alice budget not enforced")
	}
	if send(r, http.MethodPost, "/chat", "bob", "").Code != http.StatusNoContent {
		t.Fatalf("bob shares alice's bucket")
	}
	// Anonymous callers are keyed by address.
	if send(r, http.MethodPost, "/chat", "", "198.51.100.1").Code != http.StatusNoContent ||
		send(r, http.MethodPost, "/chat", "", "198.51.100.2").Code != http.StatusNoContent ||
		send(r, http.MethodPost, "/chat", "", "198.51.100.1").Code != http.StatusTooManyRequests {
		t.Fatalf("ip buckets not independent")
	}
}

func TestRateLimiter_ExemptPaths(t *testing.T) {
	rl := NewRateLimiter(1, 1, KeyByUserOrIP(), "/health")
	r := limitedRouter(rl)
	for i := 0; i < 5; i++ {
		if w := send(r, http.MethodGet, "/health", "", ""); w.Code != http.StatusOK {
			t.Fatalf("health %d = %d", i, w.Code)
		}
	}
	if rl.size() != 0 {
		t.Fatalf("exempt path created %d buckets", rl.size())
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	rl := NewRateLimiter(1, 0, KeyByUserOrIP())
	rl.now = clk.now
	if rl.burst != 1 {
		t.Fatalf("burst = %d; want coerced to 1", rl.burst)
	}

	rl.limiterFor("user:a", clk.now())
	rl.limiterFor("user:b", clk.now())
	clk.advance(defaultIdleTTL / 2)
	lim := rl.limiterFor("user:b", clk.now())
	if rl.size() != 2 {
		t.Fatalf("size = %d before sweep", rl.size())
	}

	clk.advance(defaultIdleTTL/2 + time.Second)
	if got := rl.limiterFor("user:b", clk.now()); got != lim {
		t.Fatalf("active bucket replaced")
	}
	if rl.size() != 1 {
		t.Fatalf("size = %d; idle bucket not swept", rl.size())
	}
}

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "203.0.113.9:12345"

	if got := KeyByUserOrIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("anonymous key = %q", got)
	}
	c.Set(UserIDKey, "u123")
	if got := KeyByUserOrIP()(c); got != "user:u123" {
		t.Fatalf("user key = %q", got)
	}
}

func TestRateLimiter_IPCeilingStopsRotatedUserIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	clk := &fakeClock{t: time.Unix(0, 0)}
	ipl := NewRateLimiter(1, 3, KeyByIP())
	ipl.now = clk.now
	userl := NewRateLimiter(1, 1, KeyByUserOrIP())
	userl.now = clk.now

	r := gin.New()
	r.Use(Identity(), ipl.Handler(), userl.Handler())
	r.POST("/chat", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(rateLimited.WithLabelValues("ip"))
	for i, user := range []string{"u1", "u2", "u3"} {
		if w := send(r, http.MethodPost, "/chat", user, "192.0.2.7"); w.Code != http.StatusNoContent {
			t.Fatalf("request %d = %d", i, w.Code)
		}
	}
	if w := send(r, http.MethodPost, "/chat", "u4", "192.0.2.7"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("fresh user id from same address = %d; want 429", w.Code)
	}
	if d := testutil.ToFloat64(rateLimited.WithLabelValues("ip")) - before; d != 1 {
		t.Fatalf("ip rejections delta = %v", d)
	}
	// Other addresses are unaffected.
	if w := send(r, http.MethodPost, "/chat", "u5", "192.0.2.8"); w.Code != http.StatusNoContent {
		t.Fatalf("other address = %d", w.Code)
	}
}

func TestKeyByIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "203.0.113.9:12345"
	c.Set(UserIDKey, "u123")
	if got := KeyByIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("key = %q", got)
	}
}

func TestRetryAfter(t *testing.T) {
	cases := map[time.Duration]string{
		0:                       "1",
		300 * time.Millisecond:  "1",
		time.Second:             "1",
		1500 * time.Millisecond: "2",
		30 * time.Second:        "30",
	}
	for d, want := range cases {
		if got := retryAfter(d); got != want {
			t.Errorf("retryAfter(%v) = %q; want %q", d, got, want)
		}
	}
}
