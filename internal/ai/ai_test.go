package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New("none", "", "", "")
	assert.ErrorIs(t, err, ErrNoProvider)

	_, err = New("anthropic", "claude", "", "")
	assert.ErrorContains(t, err, "missing API key")

	_, err = New("gemini", "g", "key", "")
	assert.ErrorContains(t, err, "unknown provider")

	c, err := New("anthropic", "claude-sonnet-4-5", "key", "")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name())

	c, err = New("OpenAI", "gpt-5", "key", "http://localhost:1234/v1")
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindCanceled, KindOf(context.Canceled))
	assert.Equal(t, KindOther, KindOf(errors.New("boom")))
	assert.Equal(t, KindAuth, KindOf(&Error{Kind: KindAuth}))
}

func TestClassifyContextErrors(t *testing.T) {
	err := classify("anthropic", context.DeadlineExceeded)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, KindTimeout, ae.Kind)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, classify("x", nil))
}

func TestRetryingRetriesRateLimits(t *testing.T) {
	calls := 0
	inner := ClientFunc(func(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
		calls++
		if calls < 3 {
			return nil, &Error{Kind: KindRateLimited, Status: http.StatusTooManyRequests, Err: errors.New("slow down")}
		}
		onChunk("ok")
		return &Response{Text: "ok"}, nil
	})
	r := &Retrying{Client: inner, MaxRetries: 3, BaseDelay: time.Millisecond}

	var chunks []string
	resp, err := r.Generate(context.Background(), Request{Prompt: "p"}, func(s string) { chunks = append(chunks, s) })
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"ok"}, chunks)
}

func TestRetryingDoesNotRetryAuthOrStreamed(t *testing.T) {
	calls := 0
	auth := ClientFunc(func(context.Context, Request, func(string)) (*Response, error) {
		calls++
		return nil, &Error{Kind: KindAuth, Err: errors.New("bad key")}
	})
	_, err := (&Retrying{Client: auth, MaxRetries: 3, BaseDelay: time.Millisecond}).Generate(context.Background(), Request{}, nil)
	assert.Equal(t, KindAuth, KindOf(err))
	assert.Equal(t, 1, calls)

	calls = 0
	partial := ClientFunc(func(_ context.Context, _ Request, onChunk func(string)) (*Response, error) {
		calls++
		onChunk("half")
		return nil, &Error{Kind: KindUnavailable, Err: errors.New("dropped")}
	})
	_, err = (&Retrying{Client: partial, MaxRetries: 3, BaseDelay: time.Millisecond}).Generate(context.Background(), Request{}, nil)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryingStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := ClientFunc(func(context.Context, Request, func(string)) (*Response, error) {
		cancel()
		return nil, &Error{Kind: KindUnavailable, Err: errors.New("503")}
	})
	_, err := (&Retrying{Client: inner, MaxRetries: 5, BaseDelay: time.Hour}).Generate(ctx, Request{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
