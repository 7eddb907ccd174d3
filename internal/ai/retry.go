package ai

import (
	"context"
	"time"
)

// Retrying retries rate-limited and unavailable generations with
// exponential backoff. A generation that already streamed chunks is never
// retried, so consumers do not see duplicated text.
type Retrying struct {
	Client
	MaxRetries int
	BaseDelay  time.Duration
}

// WithRetry wraps c with the default retry policy.
func WithRetry(c Client) *Retrying {
	return &Retrying{Client: c, MaxRetries: 3, BaseDelay: time.Second}
}

func (r *Retrying) Generate(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		streamed := false
		resp, err := r.Client.Generate(ctx, req, func(s string) {
			streamed = true
			if onChunk != nil {
				onChunk(s)
			}
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if streamed {
			return nil, err
		}
		switch KindOf(err) {
		case KindRateLimited, KindUnavailable:
		default:
			return nil, err
		}

		if attempt < r.MaxRetries {
			backoff := r.BaseDelay << uint(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, lastErr
}

// ListModels forwards to the wrapped client when it can list models.
func (r *Retrying) ListModels(ctx context.Context) ([]string, error) {
	if l, ok := r.Client.(ModelLister); ok {
		return l.ListModels(ctx)
	}
	return nil, nil
}
