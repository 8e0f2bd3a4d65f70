// Package conversation forwards prompts to a text-generation client with the
// history of the caller's session as context.
package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/szaher/voxgate/internal/llm"
	"github.com/szaher/voxgate/internal/session"
)

// Generation defaults used when no option overrides them.
const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
)

// Reply is the result of a successful exchange.
type Reply struct {
	Text         string
	SessionID    string
	MessageCount int
}

// Recorder observes completed Converse calls.
type Recorder interface {
	ObserveConverse(ok bool, elapsed time.Duration)
}

// Gateway resolves sessions and calls the generation client. It holds no
// per-request state and is safe for concurrent use.
type Gateway struct {
	store  *session.Store
	client llm.Client

	model       string
	maxTokens   int
	temperature float64
	topP        float64
	system      string

	logger   *slog.Logger
	recorder Recorder
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithModel sets the model name sent with each request.
func WithModel(model string) Option {
	return func(g *Gateway) { g.model = model }
}

// WithMaxTokens caps the generated reply length.
func WithMaxTokens(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// WithSampling sets temperature and top-p.
func WithSampling(temperature, topP float64) Option {
	return func(g *Gateway) {
		g.temperature = temperature
		g.topP = topP
	}
}

// WithSystem sets a system prompt.
func WithSystem(system string) Option {
	return func(g *Gateway) { g.system = system }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithRecorder registers a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// NewGateway creates a Gateway over store and client.
func NewGateway(store *session.Store, client llm.Client, opts ...Option) *Gateway {
	g := &Gateway{
		store:       store,
		client:      client,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		topP:        DefaultTopP,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model returns the model name sent with each request.
func (g *Gateway) Model() string { return g.model }

// Converse sends prompt to the generation client with the session's history
// as context. An empty sessionID, or one the store no longer knows, starts a
// new session whose ID is returned in the Reply.
//
// History is only extended when the client succeeds; the user turn and the
// assistant turn are appended together.
func (g *Gateway) Converse(ctx context.Context, prompt Prompt, sessionID string) (*Reply, error) {
	text := prompt.Text()
	if prompt.IsEmpty() {
		return nil, invalidInput("prompt is required")
	}

	start := time.Now()
	sess := g.store.ResolveOrCreate(sessionID)
	logger := g.logger.With("session_id", sess.ID)

	history := sess.History()
	messages := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, llm.Message{Role: llm.Role(t.Role), Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	temperature, topP := g.temperature, g.topP
	resp, err := g.client.Chat(ctx, llm.ChatRequest{
		Model:       g.model,
		Messages:    messages,
		System:      g.system,
		MaxTokens:   g.maxTokens,
		Temperature: &temperature,
		TopP:        &topP,
	})
	g.observe(err == nil, time.Since(start))
	if err != nil {
		logger.Error("generation failed", "error", err, "history_len", len(history))
		return nil, collaboratorError("generate reply", err)
	}

	count := sess.AppendExchange(text, resp.Content)
	logger.Debug("exchange recorded",
		"message_count", count,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	return &Reply{
		Text:         resp.Content,
		SessionID:    sess.ID,
		MessageCount: count,
	}, nil
}

func (g *Gateway) observe(ok bool, elapsed time.Duration) {
	if g.recorder != nil {
		g.recorder.ObserveConverse(ok, elapsed)
	}
}
