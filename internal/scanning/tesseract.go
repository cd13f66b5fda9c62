package scanning

import (
	"bytes"
	"context"
	"strings"
)

const tesseractRemedy = "Tesseract OCR is not installed. Install it with 'brew install tesseract' (macOS) or 'apt-get install tesseract-ocr' (Debian/Ubuntu)"

// Tesseract reads page images with the local tesseract binary
type Tesseract struct {
	runner   CommandRunner
	language string
}

// NewTesseract creates a Tesseract reader. language is a tesseract language
// code list such as "eng" or "spa+eng".
func NewTesseract(runner CommandRunner, language string) *Tesseract {
	if runner == nil {
		runner = ExecRunner{}
	}
	if language == "" {
		language = "eng"
	}
	return &Tesseract{runner: runner, language: language}
}

// ReadPage runs OCR on one PNG page, streaming it through stdin/stdout
func (t *Tesseract) ReadPage(ctx context.Context, png []byte) (string, error) {
	out, err := runTool(ctx, t.runner, "running OCR", tesseractRemedy, bytes.NewReader(png), "tesseract", "stdin", "stdout", "-l", t.language)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Available checks that tesseract is installed and knows the language
func (t *Tesseract) Available(ctx context.Context) error {
	out, err := runTool(ctx, t.runner, "checking OCR", tesseractRemedy, nil, "tesseract", "--list-langs")
	if err != nil {
		return err
	}
	for _, lang := range strings.Split(t.language, "+") {
		if !containsLine(string(out), lang) {
			return dependencyMissing("checking OCR", "Install the tesseract language data for '"+lang+"' (e.g. 'apt-get install tesseract-ocr-"+lang+"')", nil)
		}
	}
	return nil
}

func containsLine(s, want string) bool {
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == want {
			return true
		}
	}
	return false
}
