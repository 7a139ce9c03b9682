package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vbonduro/minerallens/internal/config"
	"github.com/vbonduro/minerallens/internal/vision"
	"github.com/vbonduro/minerallens/internal/vision/claude"
	"github.com/vbonduro/minerallens/internal/vision/gemini"
	"github.com/vbonduro/minerallens/internal/vision/ollama"
)

func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (vision.Backend, error) {
	switch cfg.VisionBackend {
	case "gemini":
		logger.Info("using Gemini vision backend", "model", cfg.GeminiModel)
		return gemini.NewGeminiBackend(ctx, gemini.Options{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.GeminiModel,
			BaseURL:     cfg.GeminiBaseURL,
			Temperature: cfg.Temperature,
		})
	case "claude":
		logger.Info("using Claude vision backend", "model", cfg.ClaudeModel)
		return claude.NewClaudeBackend(claude.Options{
			APIKey:      cfg.ClaudeAPIKey,
			Model:       cfg.ClaudeModel,
			BaseURL:     cfg.ClaudeBaseURL,
			Temperature: cfg.Temperature,
		}), nil
	case "ollama":
		logger.Info("using Ollama vision backend", "host", cfg.OllamaHost, "model", cfg.OllamaModel)
		return ollama.NewOllamaBackend(ollama.Options{
			Host:        cfg.OllamaHost,
			Model:       cfg.OllamaModel,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unknown vision backend %q", cfg.VisionBackend)
	}
}
