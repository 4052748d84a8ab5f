package ingest

import (
	"reflect"
	"testing"
)

func TestParse_SinglePair(t *testing.T) {
	res := Parse("Q: What is your refund policy?\nA: Refunds within 30 days.")
	want := []Pair{{Question: "What is your refund policy?", Answer: "Refunds within 30 days."}}
	if !reflect.DeepEqual(res.Pairs, want) {
		t.Fatalf("Pairs = %+v; want %+v", res.Pairs, want)
	}
	if res.Dropped != 0 || res.Orphans != 0 {
		t.Fatalf("unexpected loss: %+v", res)
	}
}

func TestParse_TwoPairsKeepOrder(t *testing.T) {
	in := `
Question: How do I reset my password?
Answer: Use the reset link.

q: Do you ship abroad?
a: Yes, to most countries.
`
	res := Parse(in)
	want := []Pair{
		{Question: "How do I reset my password?", Answer: "Use the reset link."},
		{Question: "Do you ship abroad?", Answer: "Yes, to most countries."},
	}
	if !reflect.DeepEqual(res.Pairs, want) {
		t.Fatalf("Pairs = %+v; want %+v", res.Pairs, want)
	}
}

func TestParse_TrailingQuestionDropped(t *testing.T) {
	in := "Q: one?\nA: first\nQ: two?\nA: second\nQ: three?"
	res := Parse(in)
	if len(res.Pairs) != 2 {
		t.Fatalf("len(Pairs) = %d; want 2 (%+v)", len(res.Pairs), res.Pairs)
	}
	if res.Dropped != 1 {
		t.Fatalf("Dropped = %d; want 1", res.Dropped)
	}
}

func TestParse_ContinuationLines(t *testing.T) {
	in := "Q: How do I\n  change my\nemail?\nA: Open settings,\n\n   then profile.\r\n"
	res := Parse(in)
	want := []Pair{{Question: "How do I change my email?", Answer: "Open settings, then profile."}}
	if !reflect.DeepEqual(res.Pairs, want) {
		t.Fatalf("Pairs = %+v; want %+v", res.Pairs, want)
	}
}

func TestParse_OrphansBeforeFirstQuestion(t *testing.T) {
	in := "Frequently Asked Questions\nUpdated 2024\nQ: Hours?\nA: 9 to 5."
	res := Parse(in)
	if len(res.Pairs) != 1 || res.Orphans != 2 {
		t.Fatalf("got %+v; want 1 pair and 2 orphans", res)
	}
}

func TestParse_MalformedNeverErrors(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		pairs   int
		dropped int
		orphans int
	}{
		{"empty", "", 0, 0, 0},
		{"blank lines", "\n\n  \n", 0, 0, 0},
		{"answer without question", "A: orphan answer\nQ: real?\nA: yes", 1, 1, 0},
		{"question only", "Q: anyone?", 0, 1, 0},
		{"empty question marker", "Q:\nstray\nA: answer", 0, 1, 1},
		{"answer overwritten", "Q: q?\nA: first\nA: second", 1, 0, 0},
		{"markers case-insensitive", "QUESTION: x?\nANSWER: y", 1, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Parse(tc.in)
			if len(res.Pairs) != tc.pairs || res.Dropped != tc.dropped || res.Orphans != tc.orphans {
				t.Fatalf("Parse(%q) = %+v; want pairs=%d dropped=%d orphans=%d",
					tc.in, res, tc.pairs, tc.dropped, tc.orphans)
			}
		})
	}
}

func TestParse_AnswerOverwriteKeepsLatest(t *testing.T) {
	res := Parse("Q: q?\nA: first\nA: second")
	if res.Pairs[0].Answer != "second" {
		t.Fatalf("Answer = %q; want second", res.Pairs[0].Answer)
	}
}

// Transition table for one step from each state.
func TestParser_Transitions(t *testing.T) {
	cases := []struct {
		name      string
		from      parser
		line      string
		wantState state
		wantQ     string
		wantA     string
		wantPairs int
	}{
		{"question/q-marker", parser{state: stateQuestion}, "Q: new", stateQuestion, "new", "", 0},
		{"question/a-marker", parser{state: stateQuestion, question: "q"}, "A: ans", stateAnswer, "q", "ans", 0},
		{"question/text extends question", parser{state: stateQuestion, question: "q"}, "more", stateQuestion, "q more", "", 0},
		{"question/text without question", parser{state: stateQuestion}, "stray", stateQuestion, "", "", 0},
		{"answer/q-marker flushes", parser{state: stateAnswer, question: "q", answer: "a"}, "Q: next", stateQuestion, "next", "", 1},
		{"answer/a-marker replaces", parser{state: stateAnswer, question: "q", answer: "a"}, "A: b", stateAnswer, "q", "b", 0},
		{"answer/text extends answer", parser{state: stateAnswer, question: "q", answer: "a"}, "more", stateAnswer, "q", "a more", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.from
			p.step(tc.line)
			if p.state != tc.wantState || p.question != tc.wantQ || p.answer != tc.wantA || len(p.res.Pairs) != tc.wantPairs {
				t.Fatalf("after %q: state=%s q=%q a=%q pairs=%d; want state=%s q=%q a=%q pairs=%d",
					tc.line, p.state, p.question, p.answer, len(p.res.Pairs),
					tc.wantState, tc.wantQ, tc.wantA, tc.wantPairs)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	if stateQuestion.String() != "question" || stateAnswer.String() != "answer" || state(9).String() != "unknown" {
		t.Fatalf("unexpected state names")
	}
}
