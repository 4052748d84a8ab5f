package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	openai "github.com/sashabaranov/go-openai"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/sysutil"
)

// Defaults applied by NewOpenAIClient when Options fields are zero.
const (
	DefaultModel       = "gpt-3.5-turbo"
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.7
	DefaultMaxRetries  = 2
)

// ErrEmptyCompletion is reported when the API answers 200 without a usable
// choice.
var ErrEmptyCompletion = errors.New("completion response has no content")

// Options tune a single completion request. Zero fields take the client
// defaults; a zero Temperature is omitted on the wire, so 0 cannot be sent
// and means "use the default".
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// Completer produces the assistant reply for an ordered message list.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts Options) (Message, error)
}

// Error is a failed completion. StatusCode is the upstream HTTP status, or
// 0 when no response was received.
type Error struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("completion failed: %v", e.Err)
	}
	return fmt.Sprintf("completion failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error { return e.Err }

// Config configures an OpenAIClient.
type Config struct {
	APIKey     string
	BaseURL    string // empty uses the OpenAI default
	HTTPClient *http.Client
	// MaxRetries is the number of retries after the first attempt for
	// 429, 5xx and transport errors.
	MaxRetries int
	Defaults   Options
}

// OpenAIClient implements Completer against an OpenAI-compatible
// chat-completions API.
type OpenAIClient struct {
	api        *openai.Client
	defaults   Options
	maxRetries int

	// newBackOff is swapped in tests to avoid sleeping.
	newBackOff func() backoff.BackOff
}

// NewOpenAIClient builds a client from cfg, filling zero Defaults with the
// package defaults.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	d := cfg.Defaults
	if d.Model == "" {
		d.Model = DefaultModel
	}
	if d.MaxTokens <= 0 {
		d.MaxTokens = DefaultMaxTokens
	}
	if d.Temperature == 0 {
		d.Temperature = DefaultTemperature
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &OpenAIClient{
		api:        openai.NewClientWithConfig(oc),
		defaults:   d,
		maxRetries: retries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 4 * time.Second
			return b
		},
	}
}

// Defaults returns the options used for zero fields in Complete.
func (c *OpenAIClient) Defaults() Options { return c.defaults }

// Complete sends messages and returns the first choice as an assistant
// message. Failures are *Error; retryable ones are retried with
// exponential backoff until MaxRetries is exhausted or ctx is done.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts Options) (Message, error) {
	req := openai.ChatCompletionRequest{
		Model:       sysutil.FirstNonEmpty(opts.Model, c.defaults.Model),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.defaults.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = c.defaults.Temperature
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	op := func() (openai.ChatCompletionResponse, error) {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		e := toError(err)
		if ctx.Err() != nil || !retryable(e.StatusCode) {
			return resp, backoff.Permanent(e)
		}
		return resp, e
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
	)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return Message{}, e
		}
		return Message{}, &Error{Err: err}
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Message{}, &Error{StatusCode: http.StatusOK, Body: "empty choices", Err: ErrEmptyCompletion}
	}
	return Message{Role: roleOrAssistant(resp.Choices[0].Message.Role), Content: resp.Choices[0].Message.Content}, nil
}

// toError maps go-openai errors onto *Error.
func toError(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &Error{StatusCode: reqErr.HTTPStatusCode, Body: body, Err: err}
	}
	return &Error{Err: err}
}

// retryable reports whether a failure with this status may succeed later.
// 0 means the request never got a response.
func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

func roleOrAssistant(r string) string {
	if r == "" {
		return domain.RoleAssistant
	}
	return r
}
