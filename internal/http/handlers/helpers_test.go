package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/http/middleware"
	"github.com/tbourn/go-support-backend/internal/llm"
	"github.com/tbourn/go-support-backend/internal/repo"
	"github.com/tbourn/go-support-backend/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite("file:handlers_" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// fakeCompleter answers "reply N" or fails with err.
type fakeCompleter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeCompleter) Complete(_ context.Context, _ []llm.Message, _ llm.Options) (llm.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.Message{Role: domain.RoleAssistant, Content: fmt.Sprintf("reply %d", f.calls)}, nil
}

func (f *fakeCompleter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	db  *gorm.DB
	llm *fakeCompleter
	r   *gin.Engine
}

// newEnv wires real services over an in-memory database behind the same
// request middleware the router installs.
func newEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	fc := &fakeCompleter{}
	if opts.DB == nil {
		opts.DB = db
	}
	h := New(
		services.NewChatService(db, repo.Ledger{}, repo.FAQs{}, fc),
		services.NewConversationService(db, repo.Ledger{}),
		services.NewFAQService(db, repo.FAQs{}, nil),
		opts,
	)

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header("X-Request-ID", "rid-test"); c.Next() })
	r.Use(middleware.Identity())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}))
	r.POST("/chat", h.PostChat)
	r.GET("/conversations", h.ListConversations)
	r.GET("/conversations/:session_id/messages", h.ListMessages)
	r.POST("/faqs", h.CreateFAQ)
	r.GET("/faqs", h.ListFAQs)
	r.POST("/faqs/upload", h.UploadFAQs)
	r.GET("/faqs/:id", h.GetFAQ)
	r.PUT("/faqs/:id", h.UpdateFAQ)
	r.DELETE("/faqs/:id", h.DeleteFAQ)

	return &testEnv{db: db, llm: fc, r: r}
}

func (e *testEnv) do(method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func wantError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d; want %d (body %s)", w.Code, status, w.Body.String())
	}
	er := decode[ErrorResponse](t, w)
	if er.Code != code {
		t.Fatalf("code = %q; want %q (message %q)", er.Code, code, er.Message)
	}
	if er.RequestID != "rid-test" {
		t.Fatalf("request_id = %q", er.RequestID)
	}
	return er
}

func mustContain(t *testing.T, s, sub string) {
	t.Helper()
	if !strings.Contains(s, sub) {
		t.Fatalf("%q does not contain %q", s, sub)
	}
}
