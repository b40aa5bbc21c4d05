package factory

import (
	"context"
	"testing"

	"github.com/mikey/mail-triage/internal/adapters/store"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/utils"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newConfig(t *testing.T, set func(v *viper.Viper)) *config.Config {
	t.Helper()
	v := config.NewEmptyViper()
	if set != nil {
		set(v)
	}
	return config.NewFromViper(v)
}

func TestStoreFactory(t *testing.T) {
	logger := zaptest.NewLogger(t)

	mem, err := NewStoreFactory(newConfig(t, func(v *viper.Viper) { v.Set("store.type", "memory") }), logger).CreateStore()
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, mem)
	require.NoError(t, mem.Close())

	sqlite, err := NewStoreFactory(newConfig(t, func(v *viper.Viper) {
		v.Set("store.type", "sqlite")
		v.Set("store.sqlite_path", ":memory:")
	}), logger).CreateStore()
	require.NoError(t, err)
	require.NoError(t, sqlite.Close())

	_, err = NewStoreFactory(newConfig(t, func(v *viper.Viper) { v.Set("store.type", "redis") }), logger).CreateStore()
	assert.ErrorContains(t, err, "unsupported store type")
}

func TestOracleFactory_Errors(t *testing.T) {
	logger := zaptest.NewLogger(t)
	tp := utils.NewTextProcessor(logger)

	_, err := NewOracleFactory(newConfig(t, func(v *viper.Viper) { v.Set("oracle.provider", "eliza") }), logger, tp).
		CreateCompleter(context.Background())
	assert.ErrorContains(t, err, "unsupported oracle provider")

	_, err = NewOracleFactory(newConfig(t, nil), logger, tp).CreateCompleter(context.Background())
	assert.ErrorContains(t, err, "openai API key is required")

	_, err = NewOracleFactory(newConfig(t, func(v *viper.Viper) { v.Set("oracle.provider", "gemini") }), logger, tp).
		CreateCompleter(context.Background())
	assert.ErrorContains(t, err, "gemini API key is required")
}

func TestOracleFactory_OpenAI(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := newConfig(t, func(v *viper.Viper) {
		v.Set("openai.api_key", "sk-test")
		v.Set("openai.model_name", "gpt-test")
	})
	f := NewOracleFactory(cfg, logger, utils.NewTextProcessor(logger))

	completer, err := f.CreateCompleter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gpt-test", completer.Model())

	client, err := f.CreateOracle(completer)
	require.NoError(t, err)
	assert.Equal(t, "gpt-test", client.Name())
}

func TestMailFactory_Disabled(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := newConfig(t, func(v *viper.Viper) { v.Set("ingest.enabled", false) })
	f := NewMailFactory(cfg, logger, store.NewMemoryStore(logger), utils.NewTextProcessor(logger))

	ingest, err := f.CreateIngest(nil)
	require.NoError(t, err)
	assert.Nil(t, ingest)
	assert.Nil(t, f.CreateSource())
	assert.Nil(t, f.CreateReplySender())
}

func TestMailFactory_Enabled(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := newConfig(t, func(v *viper.Viper) {
		v.Set("imap.enabled", true)
		v.Set("imap.address", "imap.example.com:993")
		v.Set("relay.address", "smtp.example.com:587")
	})
	f := NewMailFactory(cfg, logger, store.NewMemoryStore(logger), utils.NewTextProcessor(logger))

	assert.NotNil(t, f.CreateSource())
	assert.NotNil(t, f.CreateReplySender())
}

func TestPipelineFactory(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := newConfig(t, func(v *viper.Viper) {
		v.Set("rules.allowlist", []string{"acme.io"})
		v.Set("triage.owner", "me@acme.io")
		v.Set("triage.regular_sync", 10)
	})
	f := NewPipelineFactory(cfg, logger)

	engine, err := f.CreateRuleEngine()
	require.NoError(t, err)
	assert.NotNil(t, engine)

	opts, err := f.SyncOptions()
	require.NoError(t, err)
	assert.Equal(t, 10, opts.RegularBatch)
	assert.Equal(t, 480, opts.BackgroundBatch)

	s := store.NewMemoryStore(logger)
	ctx := context.Background()
	owner, err := f.EnsureOwner(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, owner)

	again, err := f.EnsureOwner(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, again.ID)

	none, err := NewPipelineFactory(newConfig(t, nil), logger).EnsureOwner(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPipelineFactory_CreateExtractor(t *testing.T) {
	logger := zaptest.NewLogger(t)

	e, err := NewPipelineFactory(newConfig(t, func(v *viper.Viper) {
		v.Set("features.spam_keywords", []string{"Crypto"})
		v.Set("features.marketing_domain_terms", []string{"blast"})
	}), logger).CreateExtractor()
	require.NoError(t, err)

	f := e.Extract(&core.Message{From: "x@mail.blast.io", Subject: "crypto crypto", Snippet: "unsubscribe"})
	assert.Equal(t, 1, f.SpamKeywordCount)
	assert.True(t, f.IsMarketingDomain)

	_, err = NewPipelineFactory(newConfig(t, func(v *viper.Viper) {
		v.Set("features.suspicious_patterns", []string{"("})
	}), logger).CreateExtractor()
	assert.ErrorContains(t, err, "invalid suspicious pattern")
}
