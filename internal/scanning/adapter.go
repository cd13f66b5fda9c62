package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Strategy is one of the closed set of extraction/analysis pipelines
type Strategy string

const (
	// StrategyHostedVision reads pages with a hosted vision model and analyzes with the same model
	StrategyHostedVision Strategy = "hosted-vision"
	// StrategyHostedOCR reads pages with local OCR and analyzes with a hosted model
	StrategyHostedOCR Strategy = "hosted-ocr"
	// StrategyLocalModel reads images with a local vision model, PDFs through
	// their text layer, and analyzes locally
	StrategyLocalModel Strategy = "local-model"
)

// Strategies lists every valid strategy, default first
var Strategies = []string{string(StrategyHostedVision), string(StrategyHostedOCR), string(StrategyLocalModel)}

// ParseStrategy validates a configured strategy name
func ParseStrategy(s string) (Strategy, error) {
	for _, v := range Strategies {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return Strategy(v), nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q (valid: %s)", s, strings.Join(Strategies, ", "))
}

// AdapterConfig wires the pieces a strategy needs
type AdapterConfig struct {
	Strategy Strategy
	// Analyst produces analyses and answers follow-ups
	Analyst ChatModel
	// Reader extracts text from a single page image
	Reader PageReader
	// Rasterizer renders PDF pages for Reader
	Rasterizer Rasterizer
	// TextLayer, when set, is tried before rasterizing a PDF
	TextLayer TextLayer
	// PageWorkers bounds how many pages are read at once; 0 or 1 is sequential
	PageWorkers int
	// MaxPages rejects longer PDFs; 0 means no limit
	MaxPages int
}

// Adapter is the uniform front for every extraction/analysis strategy
type Adapter struct {
	strategy    Strategy
	analyst     ChatModel
	reader      PageReader
	rasterizer  Rasterizer
	textLayer   TextLayer
	pageWorkers int
	maxPages    int
}

// NewAdapter validates the configuration for its strategy
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if _, err := ParseStrategy(string(cfg.Strategy)); err != nil {
		return nil, err
	}
	if cfg.Analyst == nil {
		return nil, fmt.Errorf("strategy %s needs an analysis model", cfg.Strategy)
	}
	if cfg.Reader == nil {
		return nil, fmt.Errorf("strategy %s needs a page reader", cfg.Strategy)
	}
	if cfg.Rasterizer == nil && cfg.TextLayer == nil {
		return nil, fmt.Errorf("strategy %s needs a rasterizer or a PDF text layer", cfg.Strategy)
	}
	if cfg.PageWorkers < 1 {
		cfg.PageWorkers = 1
	}

	return &Adapter{
		strategy:    cfg.Strategy,
		analyst:     cfg.Analyst,
		reader:      cfg.Reader,
		rasterizer:  cfg.Rasterizer,
		textLayer:   cfg.TextLayer,
		pageWorkers: cfg.PageWorkers,
		maxPages:    cfg.MaxPages,
	}, nil
}

// Name identifies the backend in stored records
func (a *Adapter) Name() string {
	return string(a.strategy)
}

// Available checks every external piece the strategy depends on
func (a *Adapter) Available(ctx context.Context) error {
	if err := a.analyst.Available(ctx); err != nil {
		return err
	}
	if vr, ok := a.reader.(*VisionReader); !ok || vr.model != a.analyst {
		if err := a.reader.Available(ctx); err != nil {
			return err
		}
	}
	if a.rasterizer != nil {
		if err := a.rasterizer.Available(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Extract turns an uploaded document into text. Pages of a paginated document
// are joined with PageSeparator in page order.
func (a *Adapter) Extract(ctx context.Context, data []byte, kind Kind) (text string, err error) {
	defer guard("extracting text", &err)

	if kind == KindPaginated {
		text, err = a.extractPaginated(ctx, data)
	} else {
		text, err = a.extractImage(ctx, data)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(strings.ReplaceAll(text, strings.TrimSpace(PageSeparator), "")) == "" {
		return "", &Error{Kind: ErrExtractionEmpty, Op: "extracting text"}
	}
	return text, nil
}

func (a *Adapter) extractImage(ctx context.Context, data []byte) (string, error) {
	png, err := normalizeImage(data, "")
	if err != nil {
		return "", err
	}
	text, err := a.reader.ReadPage(ctx, png)
	if err != nil {
		return "", err
	}
	return cleanModelText(text), nil
}

func (a *Adapter) extractPaginated(ctx context.Context, data []byte) (string, error) {
	n, err := inspectPDF(data)
	if err != nil {
		return "", err
	}
	if a.maxPages > 0 && n > a.maxPages {
		return "", validation("reading PDF", fmt.Errorf("document has %d pages, the limit is %d", n, a.maxPages))
	}

	var texts []string
	if a.textLayer != nil {
		texts, err = a.textLayer.PageTexts(ctx, data)
		if err != nil {
			return "", err
		}
		scanned := pagesWithoutText(texts)
		if scanned == 0 || a.rasterizer == nil {
			return strings.Join(texts, PageSeparator), nil
		}
		if scanned == len(texts) {
			slog.Debug("PDF has no text layer, rasterizing", "pages", n)
		} else {
			slog.Debug("PDF mixes text and scanned pages, reading the scanned ones", "pages", n, "scanned", scanned)
		}
	}

	pages, err := a.rasterizer.Rasterize(ctx, data)
	if err != nil {
		return "", err
	}
	if len(texts) != len(pages) {
		texts = make([]string, len(pages))
	}
	if err := a.readPages(ctx, pages, texts); err != nil {
		return "", err
	}
	return strings.Join(texts, PageSeparator), nil
}

// readPages reads the pages whose entry in texts is blank, each
// independently; results land at their page index whatever order the
// workers finish in
func (a *Adapter) readPages(ctx context.Context, pages [][]byte, texts []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.pageWorkers)
	for i, page := range pages {
		if strings.TrimSpace(texts[i]) != "" {
			continue
		}
		g.Go(func() error {
			text, err := a.reader.ReadPage(gctx, page)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			texts[i] = cleanModelText(text)
			return nil
		})
	}
	return g.Wait()
}

// Analyze produces a structured analysis, answers a question, or regenerates
// the analysis after a correction, depending on the request.
func (a *Adapter) Analyze(ctx context.Context, req AnalysisRequest) (analysis string, err error) {
	const op = "analyzing document"
	defer guard(op, &err)

	if req.Cause != nil {
		slog.Debug("Skipping analysis of failed extraction", "cause", req.Cause)
		return "", ErrCannotAnalyze
	}
	if strings.TrimSpace(req.Text) == "" {
		return "", validation(op, fmt.Errorf("nothing to analyze"))
	}

	msgs := make([]Message, 0, len(req.History)+1)
	switch {
	case len(req.History) == 0:
		msgs = append(msgs, Message{Role: RoleUser, Content: buildAnalysisPrompt(req.Text)})
	case req.Correction:
		msgs = append(msgs, req.History...)
		msgs = append(msgs, Message{Role: RoleUser, Content: buildCorrectionPrompt(req.Text)})
	default:
		msgs = append(msgs, req.History...)
		msgs = append(msgs, Message{Role: RoleUser, Content: req.Text})
	}

	out, err := a.analyst.Chat(ctx, ChatRequest{Messages: msgs})
	if err != nil {
		return "", err
	}
	out = cleanModelText(out)
	if out == "" {
		return "", upstreamf(op, "model returned an empty response")
	}
	return out, nil
}

// Close releases the models
func (a *Adapter) Close() error {
	return a.analyst.Close()
}

// VisionReader reads a page by asking a vision model to list its fields
type VisionReader struct {
	model ChatModel
}

// NewVisionReader creates a PageReader backed by a vision-capable ChatModel
func NewVisionReader(model ChatModel) *VisionReader {
	return &VisionReader{model: model}
}

// ReadPage sends the page image with the field-listing instruction
func (v *VisionReader) ReadPage(ctx context.Context, png []byte) (string, error) {
	return v.model.Chat(ctx, ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: extractionPrompt}},
		Images:   [][]byte{png},
	})
}

// Available delegates to the model
func (v *VisionReader) Available(ctx context.Context) error {
	return v.model.Available(ctx)
}

func pagesWithoutText(texts []string) int {
	n := 0
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			n++
		}
	}
	return n
}

// guard converts a panic in a backend into a returned error
func guard(op string, err *error) {
	if r := recover(); r != nil {
		slog.Error("Recovered panic in backend", "op", op, "panic", r)
		*err = upstreamf(op, "internal failure: %v", r)
	}
}
