package ai

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic streams completions from the Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates an Anthropic client. baseURL may be empty.
func NewAnthropic(model, apiKey, baseURL string) *Anthropic {
	opts := []aoption.RequestOption{aoption.WithAPIKey(strings.TrimSpace(apiKey))}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, aoption.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: strings.TrimSpace(model)}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Generate(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens(req),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
	}
	if s := strings.TrimSpace(req.System); s != "" {
		params.System = []anthropic.TextBlockParam{{Text: s}}
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}
	var text strings.Builder
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return nil, classify(a.Name(), fmt.Errorf("accumulating stream: %w", err))
		}
		if v, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if d, ok := v.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
				text.WriteString(d.Text)
				if onChunk != nil {
					onChunk(d.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classify(a.Name(), err)
	}

	return &Response{
		Text:         text.String(),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// ListModels returns the model ids available to the API key.
func (a *Anthropic) ListModels(ctx context.Context) ([]string, error) {
	page, err := a.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, classify(a.Name(), err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
