// Package llm builds the message list sent to the completion API and talks
// to that API.
//
// Assembler is pure: it turns a system prompt, an optional matched FAQ and
// the conversation history into the ordered message list for one request.
// OpenAIClient sends that list to any OpenAI-compatible chat-completions
// endpoint and maps failures to *Error.
package llm

import (
	"fmt"

	"github.com/tbourn/go-support-backend/internal/domain"
)

// DefaultSystemPrompt is the base instruction sent first on every request.
const DefaultSystemPrompt = "You are a helpful customer support assistant. " +
	"Answer questions clearly and concisely. " +
	"If you don't know the answer, say so and offer to connect the user with a human agent."

// DefaultWindow is the number of trailing history messages forwarded.
const DefaultWindow = 10

// faqContextFormat frames a matched FAQ as a second system message.
const faqContextFormat = "Use the following FAQ entry if it answers the user's question:\nQuestion: %s\nAnswer: %s"

// Message is one role-tagged entry of a completion request or reply.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Assembler builds completion contexts. The zero value is not usable; call
// NewAssembler.
type Assembler struct {
	systemPrompt string
	window       int
}

// NewAssembler returns an Assembler. An empty prompt or non-positive window
// falls back to DefaultSystemPrompt and DefaultWindow.
func NewAssembler(systemPrompt string, window int) *Assembler {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Assembler{systemPrompt: systemPrompt, window: window}
}

// Window reports how many history messages Build keeps, so callers can
// load no more than that.
func (a *Assembler) Window() int { return a.window }

// Build returns, in order: the system prompt; a system message carrying the
// matched FAQ, if any; the last Window messages of history in their given
// (chronological) order. history must already include the current user
// message.
func (a *Assembler) Build(matched *domain.FAQ, history []domain.Message) []Message {
	if len(history) > a.window {
		history = history[len(history)-a.window:]
	}

	out := make([]Message, 0, 2+len(history))
	out = append(out, Message{Role: domain.RoleSystem, Content: a.systemPrompt})
	if matched != nil {
		out = append(out, Message{
			Role:    domain.RoleSystem,
			Content: fmt.Sprintf(faqContextFormat, matched.Question, matched.Answer),
		})
	}
	for _, m := range history {
		out = append(out, Message{Role: m.Role, Content: m.Content})
	}
	return out
}
