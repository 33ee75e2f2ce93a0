package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumenspa/receptionist/internal/observability/metrics"
	"github.com/lumenspa/receptionist/pkg/logging"
)

var tracer = otel.Tracer("receptionist.internal.llm")

// chatCompleter is the slice of the OpenAI client we depend on; tests stub it.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements Client against the OpenAI chat completions API
// with bounded timeouts and exponential backoff on transient failures.
type OpenAIClient struct {
	api         chatCompleter
	model       string
	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration
	sleep       func(time.Duration)
	logger      *logging.Logger
	metrics     *metrics.Metrics
}

// OpenAIOption customizes an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithModel sets the completion model.
func WithModel(model string) OpenAIOption {
	return func(c *OpenAIClient) { c.model = model }
}

// WithTimeout bounds each individual completion attempt.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *OpenAIClient) { c.timeout = d }
}

// WithMaxAttempts caps retries for rate-limit and timeout errors.
func WithMaxAttempts(n int) OpenAIOption {
	return func(c *OpenAIClient) { c.maxAttempts = n }
}

// WithOpenAILogger attaches a logger.
func WithOpenAILogger(l *logging.Logger) OpenAIOption {
	return func(c *OpenAIClient) { c.logger = l }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) OpenAIOption {
	return func(c *OpenAIClient) { c.metrics = m }
}

// withAPI swaps the underlying client; used by tests.
func withAPI(api chatCompleter) OpenAIOption {
	return func(c *OpenAIClient) { c.api = api }
}

// withSleep swaps the backoff sleeper; used by tests.
func withSleep(fn func(time.Duration)) OpenAIOption {
	return func(c *OpenAIClient) { c.sleep = fn }
}

// NewOpenAIClient builds the adapter. baseURL is optional and supports
// OpenAI-compatible gateways.
func NewOpenAIClient(apiKey, baseURL string, opts ...OpenAIOption) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	c := &OpenAIClient{
		api:         openai.NewClientWithConfig(cfg),
		model:       openai.GPT4oMini,
		timeout:     30 * time.Second,
		maxAttempts: 3,
		backoffBase: time.Second,
		sleep:       time.Sleep,
		logger:      logging.Default().Component("llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete runs one chat completion. Rate-limit and timeout errors retry
// with 1s/2s/4s backoff; other API errors return immediately.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "Complete", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Int("llm.tools", len(req.Tools)),
	)

	apiReq := c.buildRequest(req)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		started := time.Now()
		resp, err := c.api.CreateChatCompletion(attemptCtx, apiReq)
		c.metrics.ObserveLLMLatency(time.Since(started).Seconds())
		cancel()
		if err == nil {
			return parseResponse(resp)
		}
		lastErr = err

		if !isRetryable(err) || attempt == c.maxAttempts {
			break
		}
		wait := c.backoffBase << (attempt - 1)
		c.metrics.ObserveLLMRetry()
		c.logger.Warn("completion failed, backing off",
			"attempt", attempt, "wait", wait.String(), "error", err)
		c.sleep(wait)
	}
	return nil, fmt.Errorf("llm: completion failed: %w", lastErr)
}

func (c *OpenAIClient) buildRequest(req Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages = append(messages, msg)
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONObject {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	for _, t := range req.Tools {
		params, _ := json.Marshal(t.Parameters)
		apiReq.Tools = append(apiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return apiReq
}

func parseResponse(resp openai.ChatCompletionResponse) (*Response, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("llm: response had no choices")
	}
	choice := resp.Choices[0].Message
	out := &Response{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// isRetryable reports whether the error is a rate limit or timeout.
func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode == http.StatusRequestTimeout ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return false
}
