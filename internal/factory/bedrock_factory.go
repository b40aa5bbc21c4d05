package factory

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/mail-triage/internal/adapters/bedrock"
	"github.com/mikey/mail-triage/internal/config"
	"go.uber.org/zap"
)

// BedrockFactory creates Bedrock completers
type BedrockFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewBedrockFactory creates a new Bedrock factory
func NewBedrockFactory(cfg *config.Config, logger *zap.Logger) *BedrockFactory {
	return &BedrockFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateCompleter loads AWS credentials and creates a Bedrock completer
func (f *BedrockFactory) CreateCompleter(ctx context.Context) (*bedrock.Completer, error) {
	bc := f.cfg.GetBedrock()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(bc.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return bedrock.NewCompleter(
		bedrockruntime.NewFromConfig(awsCfg),
		bc.ModelID,
		bc.MaxTokens,
		bc.Temperature,
		bc.TopP,
		f.logger,
	), nil
}
