package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-support-backend/internal/services"
)

// errorRouter serves GET /x with the given handler behind a stub request id
// and a captured request logger.
func errorRouter(h gin.HandlerFunc) (*gin.Engine, *bytes.Buffer) {
	gin.SetMode(gin.TestMode)
	var logs bytes.Buffer
	lg := zerolog.New(&logs)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Header("X-Request-ID", "rid-x")
		c.Set("logger", &lg)
		c.Next()
	})
	r.GET("/x", h)
	return r, &logs
}

func TestFailErr_Mapping(t *testing.T) {
	upstream := &services.CollaboratorError{StatusCode: 503, Body: `{"error":"overloaded"}`}
	transport := &services.CollaboratorError{Err: errors.New("dial tcp: refused")}

	cases := []struct {
		name        string
		err         error
		dev         bool
		status      int
		code        string
		message     string
		details     string
		wantErrLogs bool
	}{
		{"validation", fmt.Errorf("wrap: %w", &services.ValidationError{Field: "message", Reason: "is required"}),
			false, 400, ErrCodeValidation, "message: is required", "", false},
		{"conversation", services.ErrConversationNotFound, false, 404, ErrCodeNotFound, "conversation not found", "", false},
		{"faq", fmt.Errorf("get: %w", services.ErrFAQNotFound), false, 404, ErrCodeNotFound, "faq not found", "", false},
		{"upstream prod", upstream, false, 502, ErrCodeUpstreamFailed, upstreamMessage, "", false},
		{"upstream dev body", upstream, true, 502, ErrCodeUpstreamFailed, upstreamMessage, `{"error":"overloaded"}`, false},
		{"upstream dev transport", transport, true, 502, ErrCodeUpstreamFailed, upstreamMessage, "dial tcp: refused", false},
		{"unmapped", errors.New("constraint failed"), true, 500, ErrCodeListFailed, "internal error", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(nil, nil, nil, Options{Development: tc.dev})
			r, logs := errorRouter(func(c *gin.Context) { h.failErr(c, tc.err, ErrCodeListFailed) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			er := decode[ErrorResponse](t, w)
			if w.Code != tc.status || er.Code != tc.code || er.Message != tc.message || er.Details != tc.details {
				t.Fatalf("got %d %+v", w.Code, er)
			}
			if er.RequestID != "rid-x" {
				t.Fatalf("request_id = %q", er.RequestID)
			}
			if got := strings.Contains(logs.String(), `"level":"error"`); got != tc.wantErrLogs {
				t.Fatalf("error logged = %v; logs %s", got, logs.String())
			}
			if tc.wantErrLogs && strings.Contains(w.Body.String(), "constraint failed") {
				t.Fatalf("cause leaked to client: %s", w.Body.String())
			}
		})
	}
}

func TestFail_StopsChain(t *testing.T) {
	reached := false
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		Fail(c, http.StatusServiceUnavailable, ErrCodeNotReady, "database unavailable")
	}, func(c *gin.Context) { reached = true })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if reached || w.Code != http.StatusServiceUnavailable {
		t.Fatalf("reached=%v status=%d", reached, w.Code)
	}
	if er := decode[ErrorResponse](t, w); er.RequestID != "" || er.Code != ErrCodeNotReady {
		t.Fatalf("envelope = %+v", er)
	}
}

func TestNoContent(t *testing.T) {
	r, _ := errorRouter(noContent)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}
