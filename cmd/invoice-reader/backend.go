package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zombor/invoice-reader/internal/scanning"
)

// buildAdapter assembles the pieces the configured strategy needs
func buildAdapter(ctx context.Context, cfg *config, runner scanning.CommandRunner) (*scanning.Adapter, error) {
	strategy, err := scanning.ParseStrategy(cfg.strategy)
	if err != nil {
		return nil, err
	}

	rasterizer, err := buildRasterizer(cfg, runner)
	if err != nil {
		return nil, err
	}

	adapterCfg := scanning.AdapterConfig{
		Strategy:    strategy,
		Rasterizer:  rasterizer,
		PageWorkers: cfg.pageWorkers,
		MaxPages:    cfg.maxPages,
	}

	switch strategy {
	case scanning.StrategyHostedVision:
		model, err := buildHostedModel(ctx, cfg)
		if err != nil {
			return nil, err
		}
		adapterCfg.Analyst = model
		adapterCfg.Reader = scanning.NewVisionReader(model)
	case scanning.StrategyHostedOCR:
		model, err := buildHostedModel(ctx, cfg)
		if err != nil {
			return nil, err
		}
		adapterCfg.Analyst = model
		adapterCfg.Reader = scanning.NewTesseract(runner, cfg.ocrLanguage)
	case scanning.StrategyLocalModel:
		model, err := buildLocalModel(cfg, runner)
		if err != nil {
			return nil, err
		}
		adapterCfg.Analyst = model
		adapterCfg.Reader = scanning.NewVisionReader(model)
		// Local models consume the PDF text layer; scanned PDFs fall back to the rasterizer
		adapterCfg.TextLayer = scanning.FitzTextLayer{}
	}

	slog.Info("Configured backend",
		"strategy", strategy,
		"provider", cfg.provider,
		"rasterizer", cfg.rasterizer,
	)
	return scanning.NewAdapter(adapterCfg)
}

func buildRasterizer(cfg *config, runner scanning.CommandRunner) (scanning.Rasterizer, error) {
	switch cfg.rasterizer {
	case "fitz", "":
		return scanning.NewFitzRasterizer(float64(cfg.dpi)), nil
	case "poppler":
		return scanning.NewPopplerRasterizer(runner, cfg.dpi), nil
	default:
		return nil, fmt.Errorf("invalid rasterizer %q (valid: fitz, poppler)", cfg.rasterizer)
	}
}

func buildHostedModel(ctx context.Context, cfg *config) (scanning.ChatModel, error) {
	switch cfg.provider {
	case "openai", "":
		if cfg.openAIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is required. Set --openai-key flag or OPENAI_API_KEY environment variable")
		}
		slog.Info("Initializing OpenAI model...", "model", cfg.openAIModel)
		return scanning.NewOpenAI(ctx, cfg.openAIKey, cfg.openAIModel, cfg.openAIBaseURL, cfg.timeout, cfg.params())
	case "gemini":
		if cfg.geminiKey == "" {
			return nil, fmt.Errorf("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		}
		slog.Info("Initializing Gemini model...", "model", cfg.geminiModel)
		return scanning.NewGemini(ctx, cfg.geminiKey, cfg.geminiModel, cfg.timeout, cfg.params())
	default:
		return nil, fmt.Errorf("invalid provider %q (valid: openai, gemini)", cfg.provider)
	}
}

func buildLocalModel(cfg *config, runner scanning.CommandRunner) (scanning.ChatModel, error) {
	switch cfg.ollamaTransport {
	case "http", "":
		slog.Info("Initializing Ollama model...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel, cfg.timeout, cfg.params())
	case "process":
		slog.Info("Initializing Ollama model via the ollama binary...", "model", cfg.ollamaModel)
		return scanning.NewOllamaCLI(runner, cfg.ollamaModel, cfg.timeout), nil
	default:
		return nil, fmt.Errorf("invalid ollama transport %q (valid: http, process)", cfg.ollamaTransport)
	}
}
