package factory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/features"
	"github.com/mikey/mail-triage/internal/rules"
	"github.com/mikey/mail-triage/internal/scheduler"
	"go.uber.org/zap"
)

// PipelineFactory turns configuration into the settings of the triage
// pipeline: lexicons, sync sizes and the owning user
type PipelineFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewPipelineFactory creates a new pipeline factory
func NewPipelineFactory(cfg *config.Config, logger *zap.Logger) *PipelineFactory {
	return &PipelineFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateRuleEngine builds the rule engine from the default lexicon and the
// rules.* overrides
func (f *PipelineFactory) CreateRuleEngine() (*rules.Engine, error) {
	rc := f.cfg.GetRules()
	lex := rules.DefaultLexicon().WithOverrides(rules.Overrides{
		Allowlist:              rc.Allowlist,
		Blocklist:              rc.Blocklist,
		PromoSenderPatterns:    rc.PromoSenderPatterns,
		RetailMarketingDomains: rc.RetailDomains,
		HighPriorityKeywords:   rc.HighPriorityKeywords,
		SpamKeywords:           rc.SpamKeywords,
	})
	if len(rc.Allowlist) > 0 || len(rc.Blocklist) > 0 {
		f.logger.Info("Loaded sender lists",
			zap.Strings("allowlist", rc.Allowlist),
			zap.Strings("blocklist", rc.Blocklist))
	}
	return rules.NewEngine(lex, f.logger)
}

// CreateExtractor builds the feature extractor from the default lexicon and
// the features.* overrides
func (f *PipelineFactory) CreateExtractor() (*features.Extractor, error) {
	fc := f.cfg.GetFeatures()
	lex := features.DefaultLexicon().WithOverrides(features.Lexicon{
		SpamKeywords:         fc.SpamKeywords,
		MoneyRequestKeywords: fc.MoneyRequestKeywords,
		SuspiciousPatterns:   fc.SuspiciousPatterns,
		MarketingDomainTerms: fc.MarketingDomainTerms,
	})
	e, err := features.NewExtractorWithLexicon(lex)
	if err != nil {
		return nil, fmt.Errorf("failed to build feature extractor: %w", err)
	}
	return e, nil
}

// SyncOptions returns the batch sizes used by sync
func (f *PipelineFactory) SyncOptions() (scheduler.SyncOptions, error) {
	tc, err := f.cfg.GetTriage()
	if err != nil {
		return scheduler.SyncOptions{}, err
	}
	opts := scheduler.DefaultSyncOptions()
	if tc.InitialSync > 0 {
		opts.InitialBatch = tc.InitialSync
	}
	if tc.InitialTarget > 0 {
		opts.InitialTarget = tc.InitialTarget
	}
	if tc.BackgroundSync > 0 {
		opts.BackgroundBatch = tc.BackgroundSync
	}
	if tc.RegularSync > 0 {
		opts.RegularBatch = tc.RegularSync
	}
	return opts, nil
}

// Signature returns the sign-off appended to reply drafts
func (f *PipelineFactory) Signature() string {
	return f.cfg.GetString("triage.signature")
}

// EnsureOwner returns the user for triage.owner, creating it on first use.
// It returns nil when no owner is configured.
func (f *PipelineFactory) EnsureOwner(ctx context.Context, store core.Repository) (*core.User, error) {
	email := strings.TrimSpace(f.cfg.GetString("triage.owner"))
	if email == "" {
		return nil, nil
	}

	user, err := store.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up owner %s: %w", email, err)
	}

	user = &core.User{Email: email}
	if err := store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create owner %s: %w", email, err)
	}
	f.logger.Info("Created owner", zap.Int64("user_id", user.ID), zap.String("email", email))
	return user, nil
}
