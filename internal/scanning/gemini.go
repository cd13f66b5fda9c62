package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements ChatModel using Google Gemini
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGemini creates a new Gemini ChatModel. timeout bounds every call.
func NewGemini(ctx context.Context, apiKey string, modelName string, timeout time.Duration, params Params) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	if params.Temperature > 0 {
		model.SetTemperature(params.Temperature)
	}
	if params.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(params.MaxTokens))
	}

	return &Gemini{
		client:  client,
		model:   model,
		timeout: timeout,
	}, nil
}

// Chat replays earlier turns as chat history and sends the last one
func (g *Gemini) Chat(ctx context.Context, req ChatRequest) (string, error) {
	const op = "calling gemini"
	if len(req.Messages) == 0 {
		return "", validation(op, fmt.Errorf("no messages"))
	}

	ctx, cancel := callContext(ctx, g.timeout)
	defer cancel()

	cs := g.model.StartChat()
	for _, m := range req.Messages[:len(req.Messages)-1] {
		cs.History = append(cs.History, &genai.Content{
			Role:  geminiRole(m.Role),
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	// genai.ImageData expects just the format suffix (e.g., "png"), not the full MIME type
	last := req.Messages[len(req.Messages)-1]
	parts := make([]genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, genai.ImageData("png", img))
	}
	parts = append(parts, genai.Text(last.Content))

	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return "", classifyCall(ctx, op, fmt.Errorf("generating content: %w", err))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", upstreamf(op, "no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return responseText.String(), nil
}

// Available fetches the model metadata, which needs a valid key and model name
func (g *Gemini) Available(ctx context.Context) error {
	ctx, cancel := callContext(ctx, g.timeout)
	defer cancel()

	if _, err := g.model.Info(ctx); err != nil {
		return classifyCall(ctx, "checking gemini", err)
	}
	return nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

func geminiRole(r Role) string {
	if r == RoleAssistant {
		return "model"
	}
	return "user"
}
