package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skapfer/rubber/internal/latex"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultProgram, cfg.Program)
	assert.Equal(t, DefaultMaxErrors, cfg.MaxErrors)
	assert.Equal(t, int64(latex.DefaultLogLimit), cfg.LogLimit)
	assert.False(t, cfg.Pdf)
	assert.False(t, cfg.Force)
}

func TestLoadReadsViperValues(t *testing.T) {
	viper.Reset()
	viper.Set("program", "xelatex")
	viper.Set("pdf", true)
	viper.Set("max_errors", 3)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "xelatex", cfg.Program)
	assert.True(t, cfg.Pdf)
	assert.Equal(t, 3, cfg.MaxErrors)
}

func TestValidateRejectsNegativeMaxErrors(t *testing.T) {
	cfg := &Config{MaxErrors: -1}
	assert.Error(t, cfg.Validate())
}

func TestValidateResolvesCachePath(t *testing.T) {
	tempDir := t.TempDir()
	chdir(t, tempDir)

	cfg := &Config{CachePath: ".rubber.cache"}
	require.NoError(t, cfg.Validate())

	assert.True(t, filepath.IsAbs(cfg.CachePath))
	assert.Equal(t, ".rubber.cache", filepath.Base(cfg.CachePath))
}

func TestFindLocalConfig(t *testing.T) {
	tempDir := t.TempDir()

	deep := filepath.Join(tempDir, "a", "b")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	path := filepath.Join(tempDir, ".rubber.yml")
	require.NoError(t, os.WriteFile(path, []byte("pdf: true\n"), 0o644))

	assert.Equal(t, path, FindLocalConfig(deep))
	assert.Equal(t, path, FindLocalConfig(tempDir))
}

func TestLoaderAppliesLocalConfig(t *testing.T) {
	viper.Reset()

	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "paper.tex")
	require.NoError(t, os.WriteFile(src, []byte("\\documentclass{article}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, ".rubber.yml"),
		[]byte("program: xelatex\nmax_errors: 4\n"), 0o644))

	cfg, err := NewLoader().LoadForBuild(&cobra.Command{}, []string{src})
	require.NoError(t, err)

	assert.Equal(t, "xelatex", cfg.Program)
	assert.Equal(t, 4, cfg.MaxErrors)
	assert.Equal(t, filepath.Base(DefaultCachePath), filepath.Base(cfg.CachePath))
}
