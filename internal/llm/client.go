package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/example/go-voice-assistant/internal/lifecycle"
)

// Config selects an OpenAI-compatible chat endpoint, such as a local
// llama.cpp or ollama server, and the sampling parameters for every query.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	Temperature  float64
	TopK         int
	MaxTokens    int
	Timeout      time.Duration
}

// Client is a Model backed by the chat completions API.
type Client struct {
	cfg    Config
	api    openai.Client
	logger *slog.Logger

	once lifecycle.Once
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRequestOptions appends raw client options, e.g. a custom HTTP client.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(c *Client) {
		c.api = openai.NewClient(append(c.baseOptions(), opts...)...)
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("llm: base URL is required")
	}

	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("llm: model name is required")
	}

	if cfg.MaxTokens < 0 || cfg.TopK < 0 || cfg.Temperature < 0 {
		return nil, fmt.Errorf("llm: sampling parameters must not be negative")
	}

	c := &Client{cfg: cfg, logger: slog.Default()}
	c.api = openai.NewClient(c.baseOptions()...)

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Client) baseOptions() []option.RequestOption {
	base := c.cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	opts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithMaxRetries(0),
	}

	if c.cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(c.cfg.APIKey))
	}

	if c.cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(c.cfg.Timeout))
	}

	return opts
}

// Initialize verifies that the configured model is served. Concurrent calls
// share one attempt; a failure is retried by the next call.
func (c *Client) Initialize(ctx context.Context) error {
	return c.once.Do(ctx, c.probe)
}

func (c *Client) probe(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "probe model")
	defer span.End()

	page, err := c.api.Models.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list models")
		return &InferenceError{Reason: "list models", Err: err}
	}

	served := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		if m.ID == c.cfg.Model {
			c.logger.Info("language model ready", slog.String("model", c.cfg.Model), slog.String("base_url", c.cfg.BaseURL))
			return nil
		}
		served = append(served, m.ID)
	}

	err = fmt.Errorf("model %q not served (available: %s)", c.cfg.Model, strings.Join(served, ", "))
	span.SetStatus(codes.Error, err.Error())

	return &InferenceError{Reason: "resolve model", Err: err}
}

// Ask sends prompt as a fresh single-turn conversation.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	if !c.once.Done() {
		return "", ErrNotInitialized
	}

	ctx, span := tracer.Start(ctx, "ask")
	defer span.End()

	span.SetAttributes(
		attribute.String("model", c.cfg.Model),
		attribute.Int("prompt_len", len(prompt)),
	)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if c.cfg.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(c.cfg.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: openai.Float(c.cfg.Temperature),
	}

	if c.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.cfg.MaxTokens))
	}

	// top_k is not part of the OpenAI schema; llama.cpp and ollama read it.
	if c.cfg.TopK > 0 {
		params.SetExtraFields(map[string]any{"top_k": c.cfg.TopK})
	}

	start := time.Now()

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion")

		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &InferenceError{Reason: fmt.Sprintf("chat completion: HTTP %d", apiErr.StatusCode), Err: err}
		}
		return "", &InferenceError{Reason: "chat completion", Err: err}
	}

	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return "", &InferenceError{Reason: "empty completion"}
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)

	c.logger.Debug(
		"language model replied",
		slog.String("model", c.cfg.Model),
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)),
		slog.Int("reply_len", len(reply)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return reply, nil
}
