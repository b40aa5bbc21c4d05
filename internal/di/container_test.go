package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/ports"
	"github.com/mikey/mail-triage/internal/triage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  type: memory
openai:
  api_key: sk-test
ingest:
  enabled: true
`), 0o600))
	return path
}

func TestBuildCLIContainer_Overrides(t *testing.T) {
	container, err := BuildCLIContainer(&CLIFlags{
		ConfigFile: writeConfig(t),
		Owner:      "me@acme.io",
	})
	require.NoError(t, err)

	err = container.Invoke(func(cfg *config.Config, ingest ports.Ingestor, source ports.MessageSource) {
		assert.Equal(t, "me@acme.io", cfg.GetString("triage.owner"))
		assert.False(t, cfg.GetBool("ingest.enabled"))
		assert.Nil(t, ingest)
		assert.Nil(t, source)
	})
	require.NoError(t, err)
}

func TestBuildCLIContainer_ResolvesPipeline(t *testing.T) {
	container, err := BuildCLIContainer(&CLIFlags{ConfigFile: writeConfig(t)})
	require.NoError(t, err)

	err = container.Invoke(func(store core.Store, service *triage.Service, views *triage.Views, drafts *triage.Drafts) error {
		defer store.Close()
		user := &core.User{Email: "me@acme.io"}
		require.NoError(t, store.CreateUser(context.Background(), user))

		page, err := views.Inbox(context.Background(), user.ID, triage.FilterAll, 10, 0)
		require.NoError(t, err)
		assert.Zero(t, page.Total)
		assert.NotNil(t, service)
		assert.NotNil(t, drafts)
		return nil
	})
	require.NoError(t, err)
}

func TestBuildCLIContainer_BadConfigFile(t *testing.T) {
	container, err := BuildCLIContainer(&CLIFlags{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	require.NoError(t, err)

	err = container.Invoke(func(cfg *config.Config) {})
	assert.Error(t, err)
}
