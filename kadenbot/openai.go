package kadenbot

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// User-facing completion failure messages. These are fixed strings - raw
// API error detail is never sent back to the channel.
const (
	RateLimitedMessage = "Sorry, I'm a bit busy right now. " +
		"Please try again in a moment."
	ServiceUnavailableMessage = "Sorry, the AI service is unavailable. " +
		"Please try again later."
	EmptyReplyMessage = "Sorry, I received an empty response from the AI."
	InternalErrorMessage = "Sorry, an unexpected internal error occurred. " +
		"Please try again later."
)

// Sentinel errors for the completion failure taxonomy. Any error returned
// by [OpenAI.Complete] wraps exactly one of these.
var (
	// ErrCompletionRateLimited indicates the completion API is throttling
	// requests. No automatic retry is performed.
	ErrCompletionRateLimited = errors.New("completion API rate limited")

	// ErrCompletionAuth indicates the completion API rejected credentials.
	// Reported to users identically to ErrCompletionUnavailable, so the
	// failed credential isn't revealed.
	ErrCompletionAuth = errors.New("completion API authentication failed")

	// ErrCompletionUnavailable covers transient service failures, timeouts
	// and connection errors.
	ErrCompletionUnavailable = errors.New("completion API unavailable")

	// ErrCompletionEmpty indicates the API returned a well-formed response
	// with no usable text.
	ErrCompletionEmpty = errors.New("completion API returned an empty response")
)

// OpenAI manages the OpenAI client, handles completion requests, and
// enforces the configured request rate limit.
type OpenAI struct {
	client         CompletionClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter
}

// CompletionClient defines the method from `openai.Client` used by this
// application, to enable testing/mocking.
type CompletionClient interface {
	// CreateChatCompletion requests a chat completion
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

func newOpenAI(
	config *OpenAIConfig,
	logger *slog.Logger,
	httpClient *http.Client,
) *OpenAI {
	clientConfig := openai.DefaultConfig(config.Token)
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}

	requestsPerSecond := config.MaxRequestsPerSecond
	if requestsPerSecond <= 0 {
		requestsPerSecond = DefaultOpenAIMaxRequestsPerSecond
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
		requestLimiter: rate.NewLimiter(
			rate.Limit(requestsPerSecond),
			requestsPerSecond,
		),
	}
}

// Complete sends the given question to the completion API, with the
// configured system prompt, model and output token bound, and returns
// the completion text. The call - including time spent waiting on the
// request limiter - is bounded by the configured request timeout.
//
// Errors returned wrap one of the sentinel errors above; callers can
// map them to user-facing messages with [CompletionErrorMessage].
func (o *OpenAI) Complete(ctx context.Context, question string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.RequestTimeout)
	defer cancel()

	if err := o.requestLimiter.Wait(ctx); err != nil {
		o.logger.WarnContext(ctx, "request limiter wait failed", tint.Err(err))
		return "", errors.Join(ErrCompletionUnavailable, err)
	}

	started := time.Now()
	response, err := o.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:     o.config.Model,
			MaxTokens: o.config.MaxOutputTokens,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: o.config.SystemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: question,
				},
			},
		},
	)
	if err != nil {
		classified := classifyCompletionError(err)
		o.logger.ErrorContext(
			ctx,
			"completion request failed",
			tint.Err(err),
			"classification", classified,
			"elapsed", time.Since(started),
		)
		return "", errors.Join(classified, err)
	}

	if len(response.Choices) == 0 ||
		response.Choices[0].Message.Content == "" {
		o.logger.WarnContext(ctx, "empty completion response")
		return "", ErrCompletionEmpty
	}

	o.logger.InfoContext(
		ctx,
		"completion request finished",
		"elapsed", time.Since(started),
		"prompt_tokens", response.Usage.PromptTokens,
		"completion_tokens", response.Usage.CompletionTokens,
	)
	return response.Choices[0].Message.Content, nil
}

// classifyCompletionError maps an error from the OpenAI client to one of
// the sentinel completion errors.
func classifyCompletionError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized,
			apiErr.HTTPStatusCode == http.StatusForbidden:
			return ErrCompletionAuth
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return ErrCompletionRateLimited
		default:
			return ErrCompletionUnavailable
		}
	}

	var requestErr *openai.RequestError
	if errors.As(err, &requestErr) {
		switch requestErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrCompletionAuth
		case http.StatusTooManyRequests:
			return ErrCompletionRateLimited
		default:
			return ErrCompletionUnavailable
		}
	}

	// Timeouts and connection errors land here
	return ErrCompletionUnavailable
}

// CompletionErrorMessage returns the fixed user-safe message for an error
// returned by [OpenAI.Complete]. Authentication failures are deliberately
// reported as a generic unavailability.
func CompletionErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrCompletionRateLimited):
		return RateLimitedMessage
	case errors.Is(err, ErrCompletionEmpty):
		return EmptyReplyMessage
	case errors.Is(err, ErrCompletionAuth),
		errors.Is(err, ErrCompletionUnavailable):
		return ServiceUnavailableMessage
	default:
		return InternalErrorMessage
	}
}
