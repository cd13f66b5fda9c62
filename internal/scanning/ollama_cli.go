package scanning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const ollamaRemedy = "Install Ollama from https://ollama.com/download and make sure the 'ollama' binary is in PATH"

// OllamaCLI implements ChatModel by invoking 'ollama run' once per call
type OllamaCLI struct {
	runner  CommandRunner
	model   string
	timeout time.Duration
}

// NewOllamaCLI creates a process-backed ChatModel. The process is killed when
// a call runs longer than timeout.
func NewOllamaCLI(runner CommandRunner, modelName string, timeout time.Duration) *OllamaCLI {
	if runner == nil {
		runner = ExecRunner{}
	}
	if modelName == "" {
		modelName = "llava"
	}
	return &OllamaCLI{runner: runner, model: modelName, timeout: timeout}
}

// Chat flattens the conversation into one prompt on stdin and returns stdout.
// Multimodal models pick up image paths mentioned in the prompt.
func (o *OllamaCLI) Chat(ctx context.Context, req ChatRequest) (string, error) {
	const op = "running ollama"

	ctx, cancel := callContext(ctx, o.timeout)
	defer cancel()

	var imagePaths []string
	if len(req.Images) > 0 {
		dir, err := os.MkdirTemp("", "invoice-reader-*")
		if err != nil {
			return "", upstream(op, fmt.Errorf("creating temp dir: %w", err))
		}
		defer os.RemoveAll(dir)

		for i, img := range req.Images {
			path := filepath.Join(dir, fmt.Sprintf("page-%d.png", i+1))
			if err := os.WriteFile(path, img, 0600); err != nil {
				return "", upstream(op, fmt.Errorf("writing image: %w", err))
			}
			imagePaths = append(imagePaths, path)
		}
	}

	prompt := buildTranscript(req.Messages, imagePaths)
	out, err := runTool(ctx, o.runner, op, ollamaRemedy, strings.NewReader(prompt), "ollama", "run", "--nowordwrap", o.model)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Available checks the binary exists and the model has been pulled
func (o *OllamaCLI) Available(ctx context.Context) error {
	const op = "checking ollama"

	ctx, cancel := callContext(ctx, o.timeout)
	defer cancel()

	out, err := runTool(ctx, o.runner, op, ollamaRemedy, nil, "ollama", "list")
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(out), "\n")[1:] {
		fields := strings.Fields(line)
		if len(fields) > 0 && sameOllamaModel(fields[0], o.model) {
			return nil
		}
	}
	return dependencyMissing(op, fmt.Sprintf("Pull it with 'ollama pull %s'", o.model), fmt.Errorf("model %q not found", o.model))
}

// Close is a no-op; every call starts a fresh process
func (o *OllamaCLI) Close() error {
	return nil
}

// buildTranscript renders a conversation as a single prompt. A lone user turn
// is sent as-is; longer histories are tagged by role so the model can tell
// earlier answers apart from the new question.
func buildTranscript(msgs []Message, imagePaths []string) string {
	var sb strings.Builder
	if len(msgs) == 1 {
		sb.WriteString(msgs[0].Content)
	} else {
		for _, m := range msgs {
			sb.WriteString("<|im_start|>")
			sb.WriteString(string(m.Role))
			sb.WriteString("\n")
			sb.WriteString(m.Content)
			sb.WriteString("\n<|im_end|>\n")
		}
		sb.WriteString("<|im_start|>assistant\n")
	}
	for _, p := range imagePaths {
		sb.WriteString("\n")
		sb.WriteString(p)
	}
	return sb.String()
}
