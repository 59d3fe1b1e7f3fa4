package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsportal/internal/config"
)

func TestNewWiresComponents(t *testing.T) {
	cfg := config.Default()
	a, err := New(context.Background(), Options{Workspace: t.TempDir(), Config: cfg, Token: "tok"})
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Hub)
	require.NotNil(t, a.Journal)
	assert.Equal(t, "tok", a.Fetcher.Token)
	assert.Equal(t, cfg.Backend.Timeout.Duration, a.Fetcher.Timeout)
	assert.Equal(t, a.Journal, a.Hub.Gateway.Journal)
	assert.Equal(t, 20, a.Hub.ActivityLimit)
}

func TestNewWithoutJournal(t *testing.T) {
	cfg := config.Default()
	cfg.Journal.Enabled = false
	a, err := New(context.Background(), Options{Config: cfg})
	require.NoError(t, err)
	assert.Nil(t, a.Journal)
	assert.Nil(t, a.Hub.Gateway.Journal)
	assert.NoError(t, a.Close())
}

func TestLoadConfigPrefersExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  base_url: http://hub.local\n"), 0o644))
	cfg, err := LoadConfig(dir, path)
	require.NoError(t, err)
	assert.Equal(t, "http://hub.local", cfg.Backend.BaseURL)

	cfg, err = LoadConfig(dir, "")
	require.NoError(t, err)
	assert.Equal(t, config.Default().Backend.BaseURL, cfg.Backend.BaseURL)
}
