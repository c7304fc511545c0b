package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skapfer/rubber/internal/latex"
)

// Loader handles configuration loading from various sources
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadForBuild loads configuration specifically for build operations
func (l *Loader) LoadForBuild(cmd *cobra.Command, args []string) (*Config, error) {
	l.setupViperDefaults()
	l.loadGlobalConfig()
	l.loadLocalConfig(args)
	l.bindCommandFlags(cmd)

	return Load()
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("program", DefaultProgram)
	viper.SetDefault("max_errors", DefaultMaxErrors)
	viper.SetDefault("log_limit", latex.DefaultLogLimit)
	viper.SetDefault("cache", DefaultCachePath)
}

// loadGlobalConfig loads global configuration from the user config dir
func (l *Loader) loadGlobalConfig() {
	confDir, err := os.UserConfigDir()
	if err != nil {
		return
	}

	globalDir := filepath.Join(confDir, "rubber")

	for _, ext := range []string{"yml", "yaml", "json", "toml"} {
		globalPath := filepath.Join(globalDir, "config."+ext)

		if _, err := os.Stat(globalPath); err == nil {
			viper.SetConfigFile(globalPath)

			if err := viper.ReadInConfig(); err == nil {
				break
			}
		}
	}
}

// loadLocalConfig loads local configuration from the document directory
func (l *Loader) loadLocalConfig(args []string) {
	if len(args) > 0 {
		absFirstFile, err := filepath.Abs(args[0])
		if err != nil {
			return // silently ignore, config.Load() will handle validation
		}

		dir := filepath.Dir(absFirstFile)
		localPath := FindLocalConfig(dir)
		if localPath != "" {
			viper.SetConfigFile(localPath)
			_ = viper.ReadInConfig()
		}
	}
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	_ = viper.BindPFlag("program", cmd.Flags().Lookup("program"))
	_ = viper.BindPFlag("pdf", cmd.Flags().Lookup("pdf"))
	_ = viper.BindPFlag("synctex", cmd.Flags().Lookup("synctex"))
	_ = viper.BindPFlag("jobname", cmd.Flags().Lookup("jobname"))
	_ = viper.BindPFlag("max_errors", cmd.Flags().Lookup("maxerr"))
	_ = viper.BindPFlag("cache", cmd.Flags().Lookup("cache"))
	_ = viper.BindPFlag("force", cmd.Flags().Lookup("force"))
	_ = viper.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
}
