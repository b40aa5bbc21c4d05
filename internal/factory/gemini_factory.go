package factory

import (
	"context"
	"fmt"

	"github.com/mikey/mail-triage/internal/adapters/gemini"
	"github.com/mikey/mail-triage/internal/config"
	"go.uber.org/zap"
)

// GeminiFactory creates Gemini completers
type GeminiFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewGeminiFactory creates a new Gemini factory
func NewGeminiFactory(cfg *config.Config, logger *zap.Logger) *GeminiFactory {
	return &GeminiFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateCompleter creates a Gemini completer
func (f *GeminiFactory) CreateCompleter(ctx context.Context) (*gemini.Completer, error) {
	gc := f.cfg.GetGemini()
	if gc.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	return gemini.NewCompleter(ctx, gc.APIKey, gc.ModelName, gc.MaxTokens, gc.Temperature, gc.TopP, f.logger)
}
