package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/llm"
	"github.com/tbourn/go-support-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite("file:svc_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared")
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

// fakeCompleter records every prompt and answers with reply or err.
type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts [][]llm.Message
	hook    func()
}

func (f *fakeCompleter) Complete(_ context.Context, msgs []llm.Message, _ llm.Options) (llm.Message, error) {
	if f.hook != nil {
		f.hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]llm.Message(nil), msgs...)
	f.prompts = append(f.prompts, cp)
	if f.err != nil {
		return llm.Message{}, f.err
	}
	reply := f.reply
	if reply == "" {
		reply = fmt.Sprintf("reply %d", len(f.prompts))
	}
	return llm.Message{Role: domain.RoleAssistant, Content: reply}, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeCompleter) last() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return nil
	}
	return f.prompts[len(f.prompts)-1]
}

// countingFAQs wraps the real store and can fail FindActive. afterFind,
// when set, runs once FindActive has read the store.
type countingFAQs struct {
	repo.FAQs
	mu         sync.Mutex
	findActive int
	err        error
	afterFind  func()
}

func (c *countingFAQs) FindActive(ctx context.Context, db *gorm.DB, limit int) ([]domain.FAQ, error) {
	c.mu.Lock()
	c.findActive++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out, err := c.FAQs.FindActive(ctx, db, limit)
	if c.afterFind != nil {
		c.afterFind()
	}
	return out, err
}

func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }
