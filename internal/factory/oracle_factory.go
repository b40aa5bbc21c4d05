package factory

import (
	"context"
	"fmt"

	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/oracle"
	"github.com/mikey/mail-triage/internal/utils"
	"go.uber.org/zap"
)

// OracleFactory creates the oracle for the configured provider
type OracleFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewOracleFactory creates a new oracle factory
func NewOracleFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *OracleFactory {
	return &OracleFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateCompleter creates the model transport for oracle.provider
func (f *OracleFactory) CreateCompleter(ctx context.Context) (oracle.Completer, error) {
	provider := f.cfg.GetString("oracle.provider")

	switch provider {
	case "bedrock":
		return NewBedrockFactory(f.cfg, f.logger).CreateCompleter(ctx)
	case "gemini":
		return NewGeminiFactory(f.cfg, f.logger).CreateCompleter(ctx)
	case "openai":
		return NewOpenAIFactory(f.cfg, f.logger).CreateCompleter()
	default:
		return nil, fmt.Errorf("unsupported oracle provider: %s", provider)
	}
}

// CreateOracle wraps completer with prompting, parsing and a circuit breaker
func (f *OracleFactory) CreateOracle(completer oracle.Completer) (*oracle.Client, error) {
	oc, err := f.cfg.GetOracle()
	if err != nil {
		return nil, err
	}

	opts := oracle.DefaultOptions()
	opts.MaxBodySize = oc.MaxBodySize
	opts.Timeout = oc.Timeout
	opts.BreakerMaxFailures = oc.BreakerMaxFailures
	opts.BreakerInterval = oc.BreakerInterval
	opts.BreakerTimeout = oc.BreakerTimeout

	f.logger.Info("Oracle configured",
		zap.String("provider", oc.Provider),
		zap.String("model", completer.Model()))
	return oracle.NewClient(completer, f.textProcessor, opts, f.logger), nil
}
