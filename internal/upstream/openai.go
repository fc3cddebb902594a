package upstream

import (
	"context"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// DefaultOpenAIBaseURL is Poe's OpenAI-compatible endpoint.
const DefaultOpenAIBaseURL = "https://api.poe.com/v1"

// OpenAIClient reaches bots through an OpenAI-compatible chat completions API,
// using the bot name as the model.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient constructs a client with base URL and extra headers.
func NewOpenAIClient(apiKey, baseURL, userAgent string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if userAgent != "" {
		opts = append(opts, option.WithHeader("User-Agent", userAgent))
	}
	return &OpenAIClient{client: openai.NewClient(opts...)}
}

func (c *OpenAIClient) Stream(ctx context.Context, req Request, onFragment func(string) error) error {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Bot),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(req.Prompt)},
	}
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			delta := choice.Delta.Content
			if delta == "" {
				continue
			}
			if err := onFragment(delta); err != nil {
				return err
			}
		}
	}
	return stream.Err()
}
