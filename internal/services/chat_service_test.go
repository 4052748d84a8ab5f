package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-support-backend/internal/cache"
	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/llm"
	"github.com/tbourn/go-support-backend/internal/repo"
)

func newChat(t *testing.T, llmc *fakeCompleter) (*ChatService, *countingFAQs) {
	t.Helper()
	db := newTestDB(t)
	faqs := &countingFAQs{}
	return NewChatService(db, repo.Ledger{}, faqs, llmc), faqs
}

func exchange(t *testing.T, s *ChatService, msg string) *ExchangeResult {
	t.Helper()
	res, err := s.Exchange(context.Background(), ExchangeRequest{UserID: "u1", SessionID: "s1", Message: msg})
	if err != nil {
		t.Fatalf("Exchange(%q): %v", msg, err)
	}
	return res
}

func TestExchange_HiWithoutHistoryOrMatch(t *testing.T) {
	llmc := &fakeCompleter{reply: "Hello! How can I help?"}
	s, _ := newChat(t, llmc)

	res := exchange(t, s, "hi")

	prompt := llmc.last()
	if len(prompt) != 2 {
		t.Fatalf("prompt len = %d; want 2 (%+v)", len(prompt), prompt)
	}
	if prompt[0].Role != domain.RoleSystem || prompt[0].Content != llm.DefaultSystemPrompt {
		t.Fatalf("prompt[0] = %+v", prompt[0])
	}
	if prompt[1].Role != domain.RoleUser || prompt[1].Content != "hi" {
		t.Fatalf("prompt[1] = %+v", prompt[1])
	}
	if res.Reply != "Hello! How can I help?" || res.FAQID != nil || res.Replayed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Title != "hi" {
		t.Fatalf("title = %q; want %q", res.Title, "hi")
	}

	c, err := repo.FindConversation(context.Background(), s.DB, "u1", "s1")
	if err != nil || c.MessageCount != 2 || c.Title != "hi" || c.ID != res.ConversationID {
		t.Fatalf("stored conversation = %+v, %v", c, err)
	}
}

func TestExchange_FAQMatchAddsContext(t *testing.T) {
	llmc := &fakeCompleter{}
	s, _ := newChat(t, llmc)
	ctx := context.Background()

	f := &domain.FAQ{
		Question: "How do I reset my password?",
		Answer:   "Use the reset link on the login page.",
		Category: domain.DefaultCategory,
		Keywords: []string{"reset", "password"},
		Priority: 5,
		IsActive: true,
	}
	if err := repo.CreateFAQ(ctx, s.DB, f); err != nil {
		t.Fatalf("seed faq: %v", err)
	}

	res := exchange(t, s, "I need to reset my password please")
	if res.FAQID == nil || *res.FAQID != f.ID {
		t.Fatalf("FAQID = %v; want %s", res.FAQID, f.ID)
	}
	prompt := llmc.last()
	if len(prompt) != 3 {
		t.Fatalf("prompt len = %d; want 3", len(prompt))
	}
	if prompt[1].Role != domain.RoleSystem ||
		!strings.Contains(prompt[1].Content, f.Question) ||
		!strings.Contains(prompt[1].Content, f.Answer) {
		t.Fatalf("faq context = %+v", prompt[1])
	}

	res = exchange(t, s, "what's the weather")
	if res.FAQID != nil {
		t.Fatalf("unexpected match %s", *res.FAQID)
	}
}

func TestExchange_WindowKeepsLastTen(t *testing.T) {
	llmc := &fakeCompleter{}
	s, _ := newChat(t, llmc)

	// 6 round trips leave 12 messages; the 7th user message makes 13.
	for i := 1; i <= 7; i++ {
		exchange(t, s, fmt.Sprintf("question %d", i))
	}
	prompt := llmc.last()
	if len(prompt) != 11 {
		t.Fatalf("prompt len = %d; want 11", len(prompt))
	}
	// Items 4..13 of the history: assistant reply 2, then alternating.
	if prompt[1].Role != domain.RoleAssistant || prompt[1].Content != "reply 2" {
		t.Fatalf("first windowed message = %+v", prompt[1])
	}
	if prompt[10].Role != domain.RoleUser || prompt[10].Content != "question 7" {
		t.Fatalf("last windowed message = %+v", prompt[10])
	}
}

func TestExchange_TitleTruncatedAndSetOnce(t *testing.T) {
	llmc := &fakeCompleter{}
	s, _ := newChat(t, llmc)

	first := strings.Repeat("abcdefghij", 6) // 60 runes
	res := exchange(t, s, first)
	want := first[:50] + "..."
	if res.Title != want {
		t.Fatalf("title = %q; want %q", res.Title, want)
	}

	res = exchange(t, s, "another question")
	if res.Title != want {
		t.Fatalf("title changed to %q", res.Title)
	}
}

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"hi", 50, "hi"},
		{strings.Repeat("x", 50), 50, strings.Repeat("x", 50)},
		{strings.Repeat("x", 51), 50, strings.Repeat("x", 50) + "..."},
		{"héllo wörld", 5, "héllo..."},
		{"short", 0, "short"},
	}
	for _, tc := range cases {
		if got := deriveTitle(tc.in, tc.max); got != tc.want {
			t.Errorf("deriveTitle(%q, %d) = %q; want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestExchange_CollaboratorFailureKeepsUserMessageOnly(t *testing.T) {
	llmc := &fakeCompleter{err: &llm.Error{StatusCode: 503, Body: `{"error":"overloaded"}`}}
	s, _ := newChat(t, llmc)
	ctx := context.Background()

	_, err := s.Exchange(ctx, ExchangeRequest{UserID: "u1", SessionID: "s1", Message: "hello"})
	var ce *CollaboratorError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CollaboratorError, got %T %v", err, err)
	}
	if ce.StatusCode != 503 || ce.Body != `{"error":"overloaded"}` {
		t.Fatalf("unexpected collaborator error: %+v", ce)
	}

	c, err := repo.FindConversation(ctx, s.DB, "u1", "s1")
	if err != nil {
		t.Fatalf("conversation missing: %v", err)
	}
	msgs, _ := repo.RecentMessages(ctx, s.DB, c.ID, 0)
	if len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
		t.Fatalf("expected only the user message, got %+v", msgs)
	}
	if c.Title != "" {
		t.Fatalf("title assigned on failure: %q", c.Title)
	}
}

func TestExchange_TransportFailureHasNoStatus(t *testing.T) {
	llmc := &fakeCompleter{err: context.DeadlineExceeded}
	s, _ := newChat(t, llmc)

	_, err := s.Exchange(context.Background(), ExchangeRequest{UserID: "u1", SessionID: "s1", Message: "hello"})
	var ce *CollaboratorError
	if !errors.As(err, &ce) || ce.StatusCode != 0 {
		t.Fatalf("expected status-less CollaboratorError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("cause not preserved: %v", err)
	}
}

func TestExchange_FAQLookupFailureDegrades(t *testing.T) {
	llmc := &fakeCompleter{}
	s, faqs := newChat(t, llmc)
	faqs.err = errors.New("db down")

	res := exchange(t, s, "reset password")
	if res.FAQID != nil {
		t.Fatalf("expected no match")
	}
	if n := len(llmc.last()); n != 2 {
		t.Fatalf("prompt len = %d; want 2", n)
	}
}

func TestExchange_Validation(t *testing.T) {
	llmc := &fakeCompleter{}
	s, _ := newChat(t, llmc)
	s.MaxMessageRunes = 5

	cases := []struct {
		req   ExchangeRequest
		field string
	}{
		{ExchangeRequest{SessionID: "s", Message: "m"}, "user_id"},
		{ExchangeRequest{UserID: "u", SessionID: "  ", Message: "m"}, "session_id"},
		{ExchangeRequest{UserID: "u", SessionID: "s", Message: "\n\t"}, "message"},
		{ExchangeRequest{UserID: "u", SessionID: "s", Message: "too long"}, "message"},
	}
	for _, tc := range cases {
		_, err := s.Exchange(context.Background(), tc.req)
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != tc.field {
			t.Errorf("req %+v: got %v; want ValidationError on %s", tc.req, err, tc.field)
		}
	}
	if llmc.calls() != 0 {
		t.Fatalf("completion called on invalid input")
	}
}

func TestExchange_IdempotentReplay(t *testing.T) {
	llmc := &fakeCompleter{}
	s, _ := newChat(t, llmc)
	ctx := context.Background()
	req := ExchangeRequest{UserID: "u1", SessionID: "s1", Message: "hello", IdempotencyKey: "k-1"}

	first, err := s.Exchange(ctx, req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := s.Exchange(ctx, req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Replayed || second.MessageID != first.MessageID || second.Reply != first.Reply {
		t.Fatalf("replay = %+v; first = %+v", second, first)
	}
	if llmc.calls() != 1 {
		t.Fatalf("completion calls = %d; want 1", llmc.calls())
	}
	if n, _ := repo.CountMessages(ctx, s.DB, first.ConversationID); n != 2 {
		t.Fatalf("messages = %d; want 2", n)
	}

	req.IdempotencyKey = "k-2"
	third, err := s.Exchange(ctx, req)
	if err != nil || third.Replayed {
		t.Fatalf("new key should run a fresh exchange: %+v, %v", third, err)
	}
}

func TestExchange_SerializesPerSession(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
	)
	llmc := &fakeCompleter{}
	llmc.hook = func() {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}
	s, _ := newChat(t, llmc)
	ctx := context.Background()

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Exchange(ctx, ExchangeRequest{UserID: "u1", SessionID: "s1", Message: fmt.Sprintf("m%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Exchange: %v", err)
		}
	}

	if maxSeen != 1 {
		t.Fatalf("max concurrent completions = %d; want 1", maxSeen)
	}
	c, _ := repo.FindConversation(ctx, s.DB, "u1", "s1")
	msgs, _ := repo.RecentMessages(ctx, s.DB, c.ID, 0)
	if len(msgs) != 2*n {
		t.Fatalf("messages = %d; want %d", len(msgs), 2*n)
	}
	for i, m := range msgs {
		want := domain.RoleUser
		if i%2 == 1 {
			want = domain.RoleAssistant
		}
		if m.Seq != i || m.Role != want {
			t.Fatalf("msgs[%d] = seq %d role %s; want seq %d role %s", i, m.Seq, m.Role, i, want)
		}
	}
	if s.locks.size() != 0 {
		t.Fatalf("session locks leaked: %d", s.locks.size())
	}
}

func TestExchange_UsesCandidateCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	llmc := &fakeCompleter{}
	s, faqs := newChat(t, llmc)
	s.Candidates = cache.NewFAQCandidates(cache.NewRedisFromClient(rc, "t:"), time.Minute)

	exchange(t, s, "one")
	exchange(t, s, "two")
	if faqs.findActive != 1 {
		t.Fatalf("store lookups = %d; want 1 (second served from cache)", faqs.findActive)
	}

	// A mutation through FAQService drops the cached list.
	fs := NewFAQService(s.DB, repo.FAQs{}, s.Candidates)
	if _, err := fs.Create(context.Background(), FAQInput{Question: "q?", Answer: "a."}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	exchange(t, s, "three")
	if faqs.findActive != 2 {
		t.Fatalf("store lookups = %d; want 2 after invalidation", faqs.findActive)
	}
}

func TestExchange_MutationDuringCandidateLoadIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	llmc := &fakeCompleter{}
	s, faqs := newChat(t, llmc)
	s.Candidates = cache.NewFAQCandidates(cache.NewRedisFromClient(rc, "t:"), time.Minute)
	fs := NewFAQService(s.DB, repo.FAQs{}, s.Candidates)

	// The entry is created after the store read but before the cache write.
	faqs.afterFind = func() {
		faqs.afterFind = nil
		if _, err := fs.Create(context.Background(), FAQInput{
			Question: "How do refunds work?",
			Answer:   "Refunds take five days.",
			Keywords: []string{"refund"},
		}); err != nil {
			t.Errorf("Create: %v", err)
		}
	}
	if res := exchange(t, s, "hello there"); res.FAQID != nil {
		t.Fatalf("first exchange matched %v; entry did not exist yet", *res.FAQID)
	}

	res := exchange(t, s, "I want a refund")
	if res.FAQID == nil {
		t.Fatalf("entry created during candidate load was never matched")
	}
	if faqs.findActive != 2 {
		t.Fatalf("store lookups = %d; want 2", faqs.findActive)
	}
}
