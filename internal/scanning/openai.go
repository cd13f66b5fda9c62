package scanning

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// OpenAI implements ChatModel with an OpenAI-compatible chat completions API
type OpenAI struct {
	chat model.BaseChatModel
}

// NewOpenAI creates an OpenAI ChatModel. baseURL may point at any
// OpenAI-compatible endpoint; empty means api.openai.com.
func NewOpenAI(ctx context.Context, apiKey, modelName, baseURL string, timeout time.Duration, params Params) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if modelName == "" {
		modelName = "gpt-4o"
	}

	cfg := &openai.ChatModelConfig{
		APIKey:  apiKey,
		Model:   modelName,
		BaseURL: baseURL,
		Timeout: timeout,
	}
	if params.Temperature > 0 {
		cfg.Temperature = &params.Temperature
	}
	if params.MaxTokens > 0 {
		cfg.MaxTokens = &params.MaxTokens
	}

	chat, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return &OpenAI{chat: chat}, nil
}

// Chat sends the whole history; images ride on the last user message as
// inline base64 parts
func (o *OpenAI) Chat(ctx context.Context, req ChatRequest) (string, error) {
	const op = "calling openai"
	if len(req.Messages) == 0 {
		return "", validation(op, fmt.Errorf("no messages"))
	}

	msgs := make([]*schema.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		if m.Role == RoleAssistant {
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
			continue
		}
		if i != len(req.Messages)-1 || len(req.Images) == 0 {
			msgs = append(msgs, schema.UserMessage(m.Content))
			continue
		}

		parts := []schema.MessageInputPart{{Type: schema.ChatMessagePartTypeText, Text: m.Content}}
		for _, img := range req.Images {
			data := base64.StdEncoding.EncodeToString(img)
			parts = append(parts, schema.MessageInputPart{
				Type: schema.ChatMessagePartTypeImageURL,
				Image: &schema.MessageInputImage{
					MessagePartCommon: schema.MessagePartCommon{
						Base64Data: &data,
						MIMEType:   "image/png",
					},
					Detail: schema.ImageURLDetailHigh,
				},
			})
		}
		msgs = append(msgs, &schema.Message{Role: schema.User, UserInputMultiContent: parts})
	}

	resp, err := o.chat.Generate(ctx, msgs)
	if err != nil {
		return "", classify(op, err)
	}
	if resp == nil {
		return "", upstreamf(op, "no response from openai")
	}
	return resp.Content, nil
}

// Available sends a tiny completion, the cheapest call that proves both the
// key and the model name are accepted
func (o *OpenAI) Available(ctx context.Context) error {
	_, err := o.chat.Generate(ctx, []*schema.Message{schema.UserMessage("test")}, model.WithMaxTokens(5))
	if err != nil {
		return classify("checking openai", err)
	}
	return nil
}

// Close is a no-op; the HTTP client holds no resources
func (o *OpenAI) Close() error {
	return nil
}
