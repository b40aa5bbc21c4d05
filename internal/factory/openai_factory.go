package factory

import (
	"fmt"

	"github.com/mikey/mail-triage/internal/adapters/openai"
	"github.com/mikey/mail-triage/internal/config"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIFactory creates OpenAI completers
type OpenAIFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewOpenAIFactory creates a new OpenAI factory
func NewOpenAIFactory(cfg *config.Config, logger *zap.Logger) *OpenAIFactory {
	return &OpenAIFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateCompleter creates an OpenAI completer
func (f *OpenAIFactory) CreateCompleter() (*openai.Completer, error) {
	oc := f.cfg.GetOpenAI()
	if oc.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	return openai.NewCompleter(
		goopenai.NewClient(oc.APIKey),
		oc.ModelName,
		oc.DraftModelName,
		oc.MaxTokens,
		oc.Temperature,
		oc.TopP,
		f.logger,
	), nil
}
