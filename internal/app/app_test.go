package app_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/breeder-harvester/internal/app"
	"github.com/JakeFAU/breeder-harvester/internal/config"
	"github.com/JakeFAU/breeder-harvester/internal/storage/memory"
	"github.com/JakeFAU/breeder-harvester/internal/storage/sqlite"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Source.BaseURL = "http://127.0.0.1:1"
	return cfg
}

func TestNewWithMemoryProviders(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Database.Provider = config.ProviderMemory
	cfg.Archive.Provider = config.ProviderMemory
	cfg.Notify.Provider = config.ProviderMemory

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.Store().(*memory.Store)
	assert.True(t, ok)
	p, err := a.Pipeline(&bytes.Buffer{})
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestNewWithSQLiteAndLocalArchive(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(t)
	cfg.Database.SQLite.Path = filepath.Join(dir, "harvest.db")
	cfg.Archive.Provider = config.ProviderLocal
	cfg.Archive.Local.BaseDir = filepath.Join(dir, "archive")

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.Store().(*sqlite.Store)
	assert.True(t, ok)
	require.NoError(t, a.Store().EnsureSchema(context.Background()))
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Database.Provider = "oracle"

	_, err := app.New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNewFailsOnBadArchiveAfterOpeningStore(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(t)
	cfg.Database.SQLite.Path = filepath.Join(dir, "harvest.db")
	cfg.Archive.Provider = config.ProviderLocal
	cfg.Archive.Local.BaseDir = ""

	_, err := app.New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNewWithTracingEnabled(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Database.Provider = config.ProviderMemory
	cfg.Tracing.Enabled = true
	cfg.Tracing.SampleRatio = 0.5

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	p, err := a.Pipeline(nil)
	require.NoError(t, err)
	assert.NotNil(t, p)
	a.Close()
}
