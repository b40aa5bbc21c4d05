package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, owner string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  type: memory
openai:
  api_key: sk-test
triage:
  owner: "`+owner+`"
`), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

const promo = "From: deals@retailer.com\r\n" +
	"To: me@acme.io\r\n" +
	"Subject: 50% off today only!\r\n" +
	"Message-ID: <promo-1@retailer.com>\r\n" +
	"\r\n" +
	"Click to unsubscribe\r\n"

func TestClassify_FromStdin(t *testing.T) {
	out, err := execute(t, promo, "--config", writeConfig(t, "me@acme.io"), "classify")
	require.NoError(t, err)

	var got struct {
		MessageID      int64
		Classification core.Classification
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Positive(t, got.MessageID)
	assert.True(t, got.Classification.IsSpam)
	assert.Equal(t, core.ActionArchive, got.Classification.Action)
}

func TestInbox_EmptyTable(t *testing.T) {
	out, err := execute(t, "", "--config", writeConfig(t, "me@acme.io"), "inbox", "--filter", "high")
	require.NoError(t, err)
	assert.Contains(t, out, "PRIORITY")
	assert.Contains(t, out, "0-0 of 0")
}

func TestCommands_ArgumentErrors(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := execute(t, "", "--config", cfg, "inbox")
	assert.ErrorContains(t, err, "no owner configured")

	_, err = execute(t, "", "--config", cfg, "reclassify")
	assert.ErrorContains(t, err, "message id or --all")

	_, err = execute(t, "", "--config", cfg, "feedback", "3")
	assert.ErrorContains(t, err, "--spam or --not-spam")

	_, err = execute(t, "", "--config", cfg, "draft", "abc")
	assert.ErrorContains(t, err, "invalid message id")

	_, err = execute(t, "", "--config", cfg, "--owner", "me@acme.io", "inbox", "--filter", "urgent")
	assert.ErrorContains(t, err, "unknown inbox filter")
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "abcd…", clip("abcdefgh", 5))
}
