package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// logLines swaps the global logger for a JSON buffer and returns a function
// decoding every line written so far.
func logLines(t *testing.T) func() []map[string]any {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	return func() []map[string]any {
		var out []map[string]any
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			if line == "" {
				continue
			}
			var m map[string]any
			if err := json.Unmarshal([]byte(line), &m); err != nil {
				t.Fatalf("bad log line %q: %v", line, err)
			}
			out = append(out, m)
		}
		return out
	}
}

// pipeline mounts the correlation stack in its recommended order.
func pipeline() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Identity(), Logger(RedactOptions{}), Recovery())
	return r
}

func TestRequestID(t *testing.T) {
	r := pipeline()
	var seen string
	r.GET("/chat", func(c *gin.Context) {
		seen = requestID(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat", nil))
	if seen == "" || w.Header().Get(requestIDHeader) != seen {
		t.Fatalf("generated id: context %q header %q", seen, w.Header().Get(requestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.Header.Set("x-request-id", "client-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if seen != "client-42" || w.Header().Get(requestIDHeader) != "client-42" {
		t.Fatalf("propagated id: context %q header %q", seen, w.Header().Get(requestIDHeader))
	}
}

func TestIdentity(t *testing.T) {
	r := pipeline()
	var got string
	r.GET("/me", func(c *gin.Context) { got = UserID(c) })

	cases := []struct{ header, want string }{
		{"  alice ", "alice"},
		{"", ""},
		{strings.Repeat("x", maxUserIDLength+1), ""},
		{strings.Repeat("y", maxUserIDLength), strings.Repeat("y", maxUserIDLength)},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set(HeaderUserID, tc.header)
		}
		got = "unset"
		r.ServeHTTP(httptest.NewRecorder(), req)
		if got != tc.want {
			t.Errorf("X-User-ID %q: UserID = %q; want %q", tc.header, got, tc.want)
		}
	}
}

func TestLogger_LevelFollowsOutcome(t *testing.T) {
	r := pipeline()
	r.GET("/faqs/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/down", func(c *gin.Context) { c.Status(http.StatusBadGateway) })
	r.GET("/errs", func(c *gin.Context) {
		_ = c.Error(errors.New("bind failed"))
		c.Status(http.StatusOK)
	})

	cases := []struct{ target, level, path string }{
		{"/faqs/42", "info", "/faqs/:id"},
		{"/bad", "warn", "/bad"},
		{"/down", "error", "/down"},
		{"/errs", "error", "/errs"},
		{"/nowhere", "warn", "/nowhere"},
	}
	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			lines := logLines(t)
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			req.Header.Set(HeaderUserID, "u1")
			r.ServeHTTP(httptest.NewRecorder(), req)

			got := lines()
			if len(got) != 1 {
				t.Fatalf("lines = %v", got)
			}
			entry := got[0]
			if entry["level"] != tc.level || entry["path"] != tc.path || entry["user_id"] != "u1" {
				t.Fatalf("entry = %v", entry)
			}
			if entry["request_id"] == "" || entry["status"] == nil || entry["latency"] == nil {
				t.Fatalf("missing access fields: %v", entry)
			}
		})
	}
}

func TestLogger_ServicesReachRequestLogger(t *testing.T) {
	lines := logLines(t)
	r := pipeline()
	r.POST("/chat", func(c *gin.Context) {
		// Services only see the context.Context.
		zerolog.Ctx(c.Request.Context()).Info().Str("faq_id", "f1").Msg("faq matched")
		LoggerFrom(c).Debug().Msg("gin scoped")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.Header.Set(requestIDHeader, "rid-ctx")
	r.ServeHTTP(httptest.NewRecorder(), req)

	got := lines()
	if len(got) != 3 {
		t.Fatalf("lines = %v", got)
	}
	for _, entry := range got[:2] {
		if entry["request_id"] != "rid-ctx" || entry["path"] != "/chat" {
			t.Fatalf("handler log missing request fields: %v", entry)
		}
	}
	if got[0]["faq_id"] != "f1" {
		t.Fatalf("service log = %v", got[0])
	}
}

func TestLoggerFrom_WithoutMiddleware(t *testing.T) {
	lines := logLines(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { LoggerFrom(c).Info().Msg("global") })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	if got := lines(); len(got) != 1 || got[0]["message"] != "global" {
		t.Fatalf("lines = %v", got)
	}
}

func TestRecovery(t *testing.T) {
	t.Run("envelope before write", func(t *testing.T) {
		lines := logLines(t)
		r := pipeline()
		r.GET("/panic", func(c *gin.Context) { panic("nil faq") })

		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		req.Header.Set(requestIDHeader, "rid-p")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("body %q: %v", w.Body.String(), err)
		}
		if w.Code != http.StatusInternalServerError || body["code"] != "internal_error" || body["request_id"] != "rid-p" {
			t.Fatalf("status %d body %v", w.Code, body)
		}

		var sawPanic bool
		for _, entry := range lines() {
			if entry["message"] == "panic recovered" {
				sawPanic = entry["panic"] == "nil faq" && entry["stack"] != nil
			}
		}
		if !sawPanic {
			t.Fatalf("panic not logged with stack")
		}
	})

	t.Run("status only after write", func(t *testing.T) {
		logLines(t)
		r := pipeline()
		r.GET("/late", func(c *gin.Context) {
			c.String(http.StatusOK, "partial")
			panic("after write")
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))
		if strings.Contains(w.Body.String(), "internal_error") {
			t.Fatalf("envelope appended to written body: %q", w.Body.String())
		}
	})
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"page=1", 0, "page=1"},
		{"page=1", 10, "page=1"},
		{"page=10&q=x", 7, "page=10…"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.max); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q; want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
