package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/skapfer/rubber/internal/latex"
)

// Default configuration values
const (
	DefaultProgram   = "latex"
	DefaultMaxErrors = 10
	DefaultCachePath = ".rubber.cache"
)

// Holds the configuration options for rubber
type Config struct {
	// TeX engine executable to invoke
	Program string

	// Produce PDF output (switches the engine to pdflatex)
	Pdf bool

	// Ask the engine to write a synctex file
	Synctex bool

	// Override the base name for all output files
	JobName string

	// Display at most this many errors per failed build
	MaxErrors int

	// Read at most this many bytes of the compiler log
	LogLimit int64

	// Path of the snapshot cache file; empty disables persistence
	CachePath string

	// Run every recipe at least once
	Force bool

	// Enable verbose (debug) output
	Verbose bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Program:   viper.GetString("program"),
		Pdf:       viper.GetBool("pdf"),
		Synctex:   viper.GetBool("synctex"),
		JobName:   viper.GetString("jobname"),
		MaxErrors: viper.GetInt("max_errors"),
		LogLimit:  viper.GetInt64("log_limit"),
		CachePath: viper.GetString("cache"),
		Force:     viper.GetBool("force"),
		Verbose:   viper.GetBool("verbose"),
	}

	// Apply defaults if not set
	if cfg.Program == "" {
		cfg.Program = DefaultProgram
	}

	if cfg.MaxErrors == 0 {
		cfg.MaxErrors = DefaultMaxErrors
	}

	if cfg.LogLimit <= 0 {
		cfg.LogLimit = latex.DefaultLogLimit
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MaxErrors < 0 {
		return fmt.Errorf("max_errors must not be negative: %d", c.MaxErrors)
	}

	// Resolve the cache path so chdir-ing recipes cannot misplace it
	if c.CachePath != "" {
		abs, err := filepath.Abs(c.CachePath)
		if err != nil {
			return fmt.Errorf("invalid cache path: %v", err)
		}

		c.CachePath = abs
	}

	return nil
}
