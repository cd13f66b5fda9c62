package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	popplerRemedy = "Poppler is not installed. Install it with 'brew install poppler' (macOS) or 'apt-get install poppler-utils' (Debian/Ubuntu) and restart the service"
	mupdfRemedy   = "MuPDF could not be loaded. Install libmupdf (e.g. 'apt-get install libmupdf-dev') or switch to --rasterizer=poppler"
)

var disablePDFConfig sync.Once

// inspectPDF validates a PDF and returns its page count
func inspectPDF(data []byte) (int, error) {
	disablePDFConfig.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, validation("reading PDF", err)
	}
	if n == 0 {
		return 0, validation("reading PDF", fmt.Errorf("document has no pages"))
	}
	return n, nil
}

// recoverMuPDF turns a panic raised while talking to MuPDF into an error
func recoverMuPDF(op string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	cause := fmt.Errorf("%v", r)
	if strings.Contains(cause.Error(), "cannot load library") || strings.Contains(cause.Error(), "libmupdf") {
		*err = dependencyMissing(op, mupdfRemedy, cause)
		return
	}
	*err = upstream(op, cause)
}

func openFitz(op string, pdf []byte) (*fitz.Document, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		if errors.Is(err, fitz.ErrNeedsPassword) {
			return nil, validation(op, err)
		}
		return nil, upstream(op, fmt.Errorf("opening PDF: %w", err))
	}
	return doc, nil
}

// FitzRasterizer renders pages in-process with MuPDF
type FitzRasterizer struct {
	dpi float64
}

// NewFitzRasterizer creates a FitzRasterizer. Receipts need around 200 DPI
// for small print to survive OCR.
func NewFitzRasterizer(dpi float64) *FitzRasterizer {
	if dpi <= 0 {
		dpi = 200
	}
	return &FitzRasterizer{dpi: dpi}
}

// Rasterize renders every page to PNG
func (f *FitzRasterizer) Rasterize(ctx context.Context, pdf []byte) (pages [][]byte, err error) {
	const op = "rasterizing PDF"
	defer recoverMuPDF(op, &err)

	doc, err := openFitz(op, pdf)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	pages = make([][]byte, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, classify(op, err)
		}
		png, err := doc.ImagePNG(i, f.dpi)
		if err != nil {
			return nil, upstream(op, fmt.Errorf("rendering page %d: %w", i+1, err))
		}
		pages = append(pages, png)
	}
	return pages, nil
}

// Available always succeeds; MuPDF is linked into the binary
func (f *FitzRasterizer) Available(ctx context.Context) error {
	return nil
}

// FitzTextLayer reads the embedded text of a PDF with MuPDF
type FitzTextLayer struct{}

// PageTexts returns the text layer of each page
func (FitzTextLayer) PageTexts(ctx context.Context, pdf []byte) (texts []string, err error) {
	const op = "reading PDF text"
	defer recoverMuPDF(op, &err)

	doc, err := openFitz(op, pdf)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	texts = make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			return nil, upstream(op, fmt.Errorf("reading page %d: %w", i+1, err))
		}
		texts = append(texts, strings.TrimSpace(text))
	}
	return texts, nil
}

// PopplerRasterizer renders pages with poppler's pdftoppm
type PopplerRasterizer struct {
	runner CommandRunner
	dpi    int
}

// NewPopplerRasterizer creates a PopplerRasterizer
func NewPopplerRasterizer(runner CommandRunner, dpi int) *PopplerRasterizer {
	if runner == nil {
		runner = ExecRunner{}
	}
	if dpi <= 0 {
		dpi = 200
	}
	return &PopplerRasterizer{runner: runner, dpi: dpi}
}

// Rasterize writes the PDF to a temp dir and lets pdftoppm render it there
func (p *PopplerRasterizer) Rasterize(ctx context.Context, pdf []byte) ([][]byte, error) {
	const op = "rasterizing PDF"

	dir, err := os.MkdirTemp("", "invoice-reader-*")
	if err != nil {
		return nil, upstream(op, fmt.Errorf("creating temp dir: %w", err))
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "document.pdf")
	if err := os.WriteFile(in, pdf, 0600); err != nil {
		return nil, upstream(op, fmt.Errorf("writing temp file: %w", err))
	}

	prefix := filepath.Join(dir, "page")
	if _, err := runTool(ctx, p.runner, op, popplerRemedy, nil, "pdftoppm", "-png", "-r", fmt.Sprint(p.dpi), in, prefix); err != nil {
		return nil, err
	}

	// pdftoppm zero-pads page numbers to a common width, so names sort in page order
	files, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, upstream(op, err)
	}
	sort.Strings(files)

	pages := make([][]byte, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, upstream(op, fmt.Errorf("reading rendered page: %w", err))
		}
		pages = append(pages, data)
	}
	if len(pages) == 0 {
		return nil, upstreamf(op, "pdftoppm produced no pages")
	}
	return pages, nil
}

// Available checks pdftoppm is installed
func (p *PopplerRasterizer) Available(ctx context.Context) error {
	if _, err := p.runner.LookPath("pdftoppm"); err != nil {
		return dependencyMissing("checking rasterizer", popplerRemedy, err)
	}
	return nil
}
