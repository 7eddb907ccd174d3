package ai

import (
	"context"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
)

// OpenAI streams completions from the Responses API. It also serves
// OpenAI-compatible endpoints through baseURL.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI client. baseURL may be empty.
func NewOpenAI(model, apiKey, baseURL string) *OpenAI {
	opts := []ooption.RequestOption{ooption.WithAPIKey(strings.TrimSpace(apiKey))}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, ooption.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: strings.TrimSpace(model)}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Generate(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	params := oresponses.ResponseNewParams{
		Model:           oshared.ResponsesModel(o.model),
		MaxOutputTokens: openai.Int(maxTokens(req)),
		Input: oresponses.ResponseNewParamsInputUnion{
			OfInputItemList: oresponses.ResponseInputParam{
				oresponses.ResponseInputItemParamOfMessage(req.Prompt, oresponses.EasyInputMessageRoleUser),
			},
		},
	}
	if s := strings.TrimSpace(req.System); s != "" {
		params.Instructions = openai.String(s)
	}

	stream := o.client.Responses.NewStreaming(ctx, params)
	defer stream.Close()

	resp := &Response{}
	var text strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "response.output_text.delta":
			delta := event.Delta.OfString
			if delta == "" {
				continue
			}
			text.WriteString(delta)
			if onChunk != nil {
				onChunk(delta)
			}
		case "response.completed":
			resp.InputTokens = event.Response.Usage.InputTokens
			resp.OutputTokens = event.Response.Usage.OutputTokens
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classify(o.Name(), err)
	}
	resp.Text = text.String()
	return resp, nil
}

// ListModels returns the model ids available to the API key.
func (o *OpenAI) ListModels(ctx context.Context) ([]string, error) {
	page, err := o.client.Models.List(ctx)
	if err != nil {
		return nil, classify(o.Name(), err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
