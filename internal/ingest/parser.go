// Package ingest turns uploaded FAQ documents into question/answer pairs.
//
// Documents use a line-oriented marker convention:
//
//	Q: How do I reset my password?
//	A: Use the "Forgot password" link
//	   on the sign-in page.
//
// Markers are case-insensitive and may be spelled out ("Question:",
// "Answer:"). Continuation lines are joined with a single space. Parsing is
// lenient: malformed input is never an error, but incomplete pairs and
// stray lines are counted in Result so callers can report the loss.
package ingest

import "strings"

// Pair is one parsed question/answer entry.
type Pair struct {
	Question string
	Answer   string
}

// Result is the outcome of Parse.
type Result struct {
	// Pairs holds complete entries in document order.
	Pairs []Pair
	// Dropped counts started entries discarded because the question or
	// the answer was empty when the entry was closed.
	Dropped int
	// Orphans counts non-marker lines discarded because no question was
	// open to receive them.
	Orphans int
}

// state is the parser's position within the current entry.
type state int

const (
	// stateQuestion: continuation lines extend the question, if any.
	stateQuestion state = iota
	// stateAnswer: continuation lines extend the answer.
	stateAnswer
)

func (s state) String() string {
	switch s {
	case stateQuestion:
		return "question"
	case stateAnswer:
		return "answer"
	default:
		return "unknown"
	}
}

// lineKind classifies an input line.
type lineKind int

const (
	lineText lineKind = iota
	lineQuestion
	lineAnswer
)

var (
	questionPrefixes = []string{"question:", "q:"}
	answerPrefixes   = []string{"answer:", "a:"}
)

// classify reports the marker kind of a trimmed line and the text after the
// marker.
func classify(line string) (lineKind, string) {
	for _, p := range questionPrefixes {
		if hasPrefixFold(line, p) {
			return lineQuestion, strings.TrimSpace(line[len(p):])
		}
	}
	for _, p := range answerPrefixes {
		if hasPrefixFold(line, p) {
			return lineAnswer, strings.TrimSpace(line[len(p):])
		}
	}
	return lineText, line
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

type parser struct {
	state    state
	question string
	answer   string
	res      Result
}

// flush closes the current entry: complete entries are emitted, partial
// ones are counted as dropped. The buffers are reset either way.
func (p *parser) flush() {
	switch {
	case p.question != "" && p.answer != "":
		p.res.Pairs = append(p.res.Pairs, Pair{Question: p.question, Answer: p.answer})
	case p.question != "" || p.answer != "":
		p.res.Dropped++
	}
	p.question, p.answer = "", ""
}

// step applies one trimmed, non-empty line.
func (p *parser) step(line string) {
	kind, rest := classify(line)
	switch kind {
	case lineQuestion:
		p.flush()
		p.question = rest
		p.state = stateQuestion
	case lineAnswer:
		p.answer = rest
		p.state = stateAnswer
	default:
		switch {
		case p.state == stateAnswer:
			p.answer = join(p.answer, rest)
		case p.question != "":
			p.question = join(p.question, rest)
		default:
			p.res.Orphans++
		}
	}
}

func join(cur, line string) string {
	if cur == "" {
		return line
	}
	return cur + " " + line
}

// Parse splits raw into question/answer pairs. It never fails; see Result
// for what was discarded.
func Parse(raw string) Result {
	p := &parser{state: stateQuestion}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p.step(line)
	}
	p.flush()
	return p.res
}
