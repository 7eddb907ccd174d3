// Package ai is the thin generation capability lenses and drilldowns call.
// Provider SDKs stay behind the Client interface.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/openai/openai-go"
)

const defaultMaxTokens = 4096

// Request is one single-turn generation.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Response is the accumulated output of a generation.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Client generates text, delivering incremental chunks to onChunk as they
// arrive. onChunk may be nil.
type Client interface {
	Generate(ctx context.Context, req Request, onChunk func(string)) (*Response, error)
	Name() string
}

// ModelLister is implemented by clients that can enumerate provider models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request, onChunk func(string)) (*Response, error)

func (f ClientFunc) Generate(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	return f(ctx, req, onChunk)
}

func (f ClientFunc) Name() string { return "func" }

// ErrNoProvider is returned when no AI provider is configured.
var ErrNoProvider = errors.New("no AI provider configured")

// New creates a client for the named provider.
func New(provider, model, apiKey, baseURL string) (Client, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" || provider == "none" {
		return nil, ErrNoProvider
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%s: missing API key", provider)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%s: missing model", provider)
	}
	switch provider {
	case "anthropic":
		return NewAnthropic(model, apiKey, baseURL), nil
	case "openai":
		return NewOpenAI(model, apiKey, baseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

// Kind classifies a provider failure.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindAuth        Kind = "auth"
	KindTimeout     Kind = "timeout"
	KindCanceled    Kind = "canceled"
	KindUnavailable Kind = "unavailable"
	KindOther       Kind = "other"
)

// Error is a classified provider failure.
type Error struct {
	Provider string
	Kind     Kind
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, KindOther if unclassified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindOther
}

// classify wraps an SDK error with its Kind.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	status := 0
	var aerr *anthropic.Error
	var oerr *openai.Error
	switch {
	case errors.As(err, &aerr):
		status = aerr.StatusCode
	case errors.As(err, &oerr):
		status = oerr.StatusCode
	}

	kind := KindOther
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status >= 500:
		kind = KindUnavailable
	}
	return &Error{Provider: provider, Kind: kind, Status: status, Err: err}
}

func maxTokens(req Request) int64 {
	if req.MaxTokens > 0 {
		return int64(req.MaxTokens)
	}
	return defaultMaxTokens
}
