package scanning

import (
	"context"
	"mime"
	"time"
)

// Kind is the declared shape of an uploaded document
type Kind int

const (
	// KindImage is a single photo or scan
	KindImage Kind = iota
	// KindPaginated is a multi-page document such as a PDF
	KindPaginated
)

func (k Kind) String() string {
	if k == KindPaginated {
		return "paginated"
	}
	return "image"
}

// KindFromContentType maps an upload MIME type to a document kind.
// Parameters such as name= are ignored.
func KindFromContentType(contentType string) Kind {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil && mediaType == "application/pdf" {
		return KindPaginated
	}
	return KindImage
}

// Role identifies the author of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a single synchronous call to a language model.
// Images are attached to the last message and must already be PNG encoded.
type ChatRequest struct {
	Messages []Message
	Images   [][]byte
}

// ChatModel is a language model reachable through one transport
type ChatModel interface {
	// Chat sends the conversation and returns the generated text
	Chat(ctx context.Context, req ChatRequest) (string, error)
	// Available reports whether the service is reachable and the model present
	Available(ctx context.Context) error
	// Close releases the client
	Close() error
}

// PageReader turns one page image into text
type PageReader interface {
	ReadPage(ctx context.Context, png []byte) (string, error)
	Available(ctx context.Context) error
}

// Rasterizer renders every page of a PDF to PNG, in page order
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([][]byte, error)
	Available(ctx context.Context) error
}

// TextLayer reads the embedded text of every page of a PDF, in page order
type TextLayer interface {
	PageTexts(ctx context.Context, pdf []byte) ([]string, error)
}

// AnalysisRequest is the input of the analysis stage
type AnalysisRequest struct {
	// Text is the extracted document text, or the user's question/correction
	// when History is set.
	Text       string
	History    []Message
	Correction bool
	// Cause is set when Text was produced by a stage that failed. The request
	// is then answered with ErrCannotAnalyze and no model is called.
	Cause error
}

// Params tune generation for every model call
type Params struct {
	Temperature float32
	MaxTokens   int
}

// callContext bounds a single model call; a zero timeout leaves ctx unbounded
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
