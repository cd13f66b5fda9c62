package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/invoice-reader/internal/scanning"
)

const envPrefix = "INVOICE_READER"

type config struct {
	port     int
	dbPath   string
	authUser string
	authPass string

	strategy      string
	provider      string
	openAIKey     string
	openAIModel   string
	openAIBaseURL string
	geminiKey     string
	geminiModel   string

	ollamaURL       string
	ollamaModel     string
	ollamaTransport string

	rasterizer  string
	dpi         int
	ocrLanguage string
	pageWorkers int
	maxPages    int

	timeout     time.Duration
	temperature float64
	maxTokens   int

	logLevel  string
	logFormat string
	logFile   string

	check       bool
	showVersion bool
}

// loadDotEnv reads a .env file into the environment if one exists; values
// already set win
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

func parseConfig(args []string) (*config, *ff.FlagSet, error) {
	fs := ff.NewFlagSet("invoice-reader")
	cfg := &config{}

	fs.IntVar(&cfg.port, 0, "port", 8080, "HTTP server port")
	fs.StringVar(&cfg.dbPath, 0, "db", "invoice-reader.db", "Database file path")
	fs.StringVar(&cfg.authUser, 0, "auth-user", "", "Basic auth username (optional)")
	fs.StringVar(&cfg.authPass, 0, "auth-pass", "", "Basic auth password (optional)")

	fs.StringEnumVar(&cfg.strategy, 0, "strategy", "Extraction strategy", scanning.Strategies...)
	fs.StringEnumVar(&cfg.provider, 0, "provider", "Hosted model provider for hosted strategies", "openai", "gemini")
	fs.StringVar(&cfg.openAIKey, 0, "openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
	fs.StringVar(&cfg.openAIModel, 0, "openai-model", "gpt-4o", "OpenAI model name")
	fs.StringVar(&cfg.openAIBaseURL, 0, "openai-base-url", "", "OpenAI-compatible API base URL (optional)")
	fs.StringVar(&cfg.geminiKey, 0, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	fs.StringVar(&cfg.geminiModel, 0, "gemini-model", "gemini-2.5-pro", "Google Gemini model name")

	fs.StringVar(&cfg.ollamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	fs.StringVar(&cfg.ollamaModel, 0, "ollama-model", "llava", "Ollama model name (e.g., llava, qwen2.5vl:7b, llama3.2-vision)")
	fs.StringEnumVar(&cfg.ollamaTransport, 0, "ollama-transport", "How to reach Ollama: over its HTTP API or by running the ollama binary", "http", "process")

	fs.StringEnumVar(&cfg.rasterizer, 0, "rasterizer", "PDF rasterizer: MuPDF in-process or poppler's pdftoppm", "fitz", "poppler")
	fs.IntVar(&cfg.dpi, 0, "dpi", 200, "Resolution for rasterized PDF pages")
	fs.StringVar(&cfg.ocrLanguage, 0, "ocr-lang", "eng", "Tesseract language(s), e.g. eng or spa+eng")
	fs.IntVar(&cfg.pageWorkers, 0, "page-workers", 1, "PDF pages read concurrently")
	fs.IntVar(&cfg.maxPages, 0, "max-pages", 20, "Reject PDFs with more pages (0 for no limit)")

	fs.DurationVar(&cfg.timeout, 0, "timeout", 120*time.Second, "Timeout for a single model call")
	fs.Float64Var(&cfg.temperature, 0, "temperature", 0.7, "Sampling temperature for analysis")
	fs.IntVar(&cfg.maxTokens, 0, "max-tokens", 1000, "Maximum tokens in a model response")

	fs.StringEnumVar(&cfg.logLevel, 0, "log-level", "Log level", "info", "debug", "warn", "error")
	fs.StringEnumVar(&cfg.logFormat, 0, "log-format", "Log format", "text", "json")
	fs.StringVar(&cfg.logFile, 0, "log-file", "", "Also write logs to this file, rotated (optional)")

	fs.BoolVar(&cfg.check, 0, "check", "Check that the configured backend is available and exit")
	fs.BoolVar(&cfg.showVersion, 0, "version", "Show version information")
	_ = fs.StringLong("config", "", "Config file (optional)")

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix(envPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithConfigAllowMissingFile(),
	); err != nil {
		return nil, fs, err
	}

	// Provider keys are also read under their usual names
	if cfg.openAIKey == "" {
		cfg.openAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.geminiKey == "" {
		cfg.geminiKey = os.Getenv("GEMINI_API_KEY")
	}

	return cfg, fs, nil
}

func (c *config) params() scanning.Params {
	return scanning.Params{Temperature: float32(c.temperature), MaxTokens: c.maxTokens}
}
