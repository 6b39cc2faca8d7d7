package kadenbot

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestOpenAI(client CompletionClient) *OpenAI {
	cfg := &OpenAIConfig{
		Token:                "openai-test-token",
		Model:                DefaultOpenAIModel,
		SystemPrompt:         DefaultOpenAISystemPrompt,
		MaxOutputTokens:      DefaultOpenAIMaxOutputTokens,
		RequestTimeout:       5 * time.Second,
		MaxRequestsPerSecond: 100,
	}
	return &OpenAI{
		client:         client,
		config:         cfg,
		logger:         slog.Default(),
		requestLimiter: rate.NewLimiter(rate.Limit(100), 100),
	}
}

func TestClassifyCompletionError(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		err      error
		expected error
	}{
		{
			name:     "401 api error",
			err:      &openai.APIError{HTTPStatusCode: http.StatusUnauthorized},
			expected: ErrCompletionAuth,
		},
		{
			name:     "403 api error",
			err:      &openai.APIError{HTTPStatusCode: http.StatusForbidden},
			expected: ErrCompletionAuth,
		},
		{
			name:     "429 api error",
			err:      &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests},
			expected: ErrCompletionRateLimited,
		},
		{
			name:     "500 api error",
			err:      &openai.APIError{HTTPStatusCode: http.StatusInternalServerError},
			expected: ErrCompletionUnavailable,
		},
		{
			name:     "400 api error",
			err:      &openai.APIError{HTTPStatusCode: http.StatusBadRequest},
			expected: ErrCompletionUnavailable,
		},
		{
			name: "request error 401",
			err: &openai.RequestError{
				HTTPStatusCode: http.StatusUnauthorized,
				Err:            errors.New("unauthorized"),
			},
			expected: ErrCompletionAuth,
		},
		{
			name: "request error 429",
			err: &openai.RequestError{
				HTTPStatusCode: http.StatusTooManyRequests,
				Err:            errors.New("too many requests"),
			},
			expected: ErrCompletionRateLimited,
		},
		{
			name:     "deadline exceeded",
			err:      context.DeadlineExceeded,
			expected: ErrCompletionUnavailable,
		},
		{
			name:     "plain transport error",
			err:      errors.New("dial tcp: connection refused"),
			expected: ErrCompletionUnavailable,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				assert.ErrorIs(t, classifyCompletionError(tc.err), tc.expected)
			},
		)
	}
}

func TestCompletionErrorMessage(t *testing.T) {
	t.Parallel()
	assert.Equal(
		t,
		RateLimitedMessage,
		CompletionErrorMessage(ErrCompletionRateLimited),
	)
	assert.Equal(
		t,
		ServiceUnavailableMessage,
		CompletionErrorMessage(ErrCompletionAuth),
		"auth failures must not be distinguishable from unavailability",
	)
	assert.Equal(
		t,
		ServiceUnavailableMessage,
		CompletionErrorMessage(ErrCompletionUnavailable),
	)
	assert.Equal(
		t,
		EmptyReplyMessage,
		CompletionErrorMessage(ErrCompletionEmpty),
	)
	assert.Equal(
		t,
		InternalErrorMessage,
		CompletionErrorMessage(errors.New("something else")),
	)
}

func TestCompleteReturnsText(t *testing.T) {
	t.Parallel()
	client := &fakeCompletionClient{response: "the answer"}
	o := newTestOpenAI(client)

	rv, err := o.Complete(context.Background(), "a question")
	require.NoError(t, err)
	assert.Equal(t, "the answer", rv)

	require.Len(t, client.lastRequest.Messages, 2)
	assert.Equal(
		t,
		openai.ChatMessageRoleSystem,
		client.lastRequest.Messages[0].Role,
	)
	assert.Equal(
		t,
		DefaultOpenAISystemPrompt,
		client.lastRequest.Messages[0].Content,
	)
	assert.Equal(t, openai.ChatMessageRoleUser, client.lastRequest.Messages[1].Role)
	assert.Equal(t, "a question", client.lastRequest.Messages[1].Content)
}

func TestCompleteEmptyResponse(t *testing.T) {
	t.Parallel()
	client := &fakeCompletionClient{response: ""}
	o := newTestOpenAI(client)

	_, err := o.Complete(context.Background(), "a question")
	assert.ErrorIs(t, err, ErrCompletionEmpty)
}

func TestCompleteWrapsClassifiedError(t *testing.T) {
	t.Parallel()
	client := &fakeCompletionClient{
		err: &openai.APIError{
			HTTPStatusCode: http.StatusTooManyRequests,
			Message:        "slow down",
		},
	}
	o := newTestOpenAI(client)

	_, err := o.Complete(context.Background(), "a question")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompletionRateLimited)

	var apiErr *openai.APIError
	assert.ErrorAs(t, err, &apiErr, "original error preserved in the chain")
}

func TestCompleteCancelledContext(t *testing.T) {
	t.Parallel()
	client := &fakeCompletionClient{response: "too late"}
	o := newTestOpenAI(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Complete(ctx, "a question")
	assert.ErrorIs(t, err, ErrCompletionUnavailable)
}
