package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama implements ChatModel against a local Ollama server
type Ollama struct {
	baseURL string
	model   string
	options ollamaOptions
	client  *http.Client
}

// NewOllama creates a new Ollama ChatModel.
// Vision-capable models that read receipts well:
//   - llava:1.6 (best balance of accuracy and speed)
//   - qwen2.5vl:7b (good OCR capabilities)
//   - llama3.2-vision
//
// Text-only models (llama3.1, mistral) work for analysis when extraction uses
// OCR or the PDF text layer.
func NewOllama(baseURL string, modelName string, timeout time.Duration, params Params) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second // Ollama can be slow, especially for vision models
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		options: ollamaOptions{Temperature: params.Temperature, NumPredict: params.MaxTokens},
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Chat sends the conversation to /api/chat with streaming disabled
func (o *Ollama) Chat(ctx context.Context, req ChatRequest) (string, error) {
	const op = "calling ollama"

	reqBody := ollamaChatRequest{
		Model:   o.model,
		Stream:  false,
		Options: o.options,
	}
	if len(req.Images) > 0 {
		reqBody.Messages = append(reqBody.Messages, ollamaMessage{Role: "system", Content: visionSystemPrompt})
	}
	for i, m := range req.Messages {
		msg := ollamaMessage{Role: string(m.Role), Content: m.Content}
		if i == len(req.Messages)-1 {
			for _, img := range req.Images {
				msg.Images = append(msg.Images, base64.StdEncoding.EncodeToString(img))
			}
		}
		reqBody.Messages = append(reqBody.Messages, msg)
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", upstream(op, fmt.Errorf("marshaling request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", upstream(op, fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", upstreamf(op, "ollama API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", upstream(op, fmt.Errorf("decoding response: %w", err))
	}
	if chatResp.Error != "" {
		return "", upstreamf(op, "ollama returned an error: %s", chatResp.Error)
	}

	return chatResp.Message.Content, nil
}

// Available checks the server answers and has the model pulled
func (o *Ollama) Available(ctx context.Context) error {
	const op = "checking ollama"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return upstream(op, err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		e := classify(op, err)
		if se, ok := e.(*Error); ok {
			se.Remedy = fmt.Sprintf("Start Ollama with 'ollama serve' or check that %s is correct", o.baseURL)
		}
		return e
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return upstreamf(op, "ollama API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return upstream(op, fmt.Errorf("decoding response: %w", err))
	}
	for _, m := range tags.Models {
		if sameOllamaModel(m.Name, o.model) {
			return nil
		}
	}
	return dependencyMissing(op, fmt.Sprintf("Pull it with 'ollama pull %s'", o.model), fmt.Errorf("model %q not found", o.model))
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}

// sameOllamaModel treats "llava" and "llava:latest" as the same model
func sameOllamaModel(a, b string) bool {
	norm := func(s string) string {
		if !strings.Contains(s, ":") {
			return s + ":latest"
		}
		return s
	}
	return norm(a) == norm(b)
}
