package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skapfer/rubber/internal/config"
	"github.com/skapfer/rubber/internal/dep"
	"github.com/skapfer/rubber/internal/engine"
	"github.com/skapfer/rubber/internal/latex"
	"github.com/skapfer/rubber/internal/latexmod"
	"github.com/skapfer/rubber/internal/snapshot"
)

var buildCmd = &cobra.Command{
	Use:          "build",
	Short:        "Build a LaTeX document",
	Long:         `Compile a LaTeX document until its output stabilizes.`,
	RunE:         runBuild,
	SilenceUsage: true,
}

// buildContext bundles everything one invocation needs.
type buildContext struct {
	cfg    *config.Config
	logger *slog.Logger
	graph  *dep.Graph
	doc    *latex.Document
	eng    *engine.Engine
}

func runBuild(cmd *cobra.Command, args []string) error {
	bc, err := setup(cmd, args)
	if err != nil {
		return err
	}

	return bc.build()
}

func (bc *buildContext) build() error {
	out, err := bc.eng.Make(bc.doc.Node())
	if err != nil {
		if bc.eng.Report(os.Stderr, err) {
			return fmt.Errorf("building %s failed", bc.doc.Node().Primary())
		}

		return err
	}

	if out == dep.Unchanged {
		bc.logger.Info("nothing to do", "product", bc.doc.Node().Primary())
	}

	return nil
}

// setup wires the snapshot store, graph, registry, document and engine
// for one invocation.
func setup(cmd *cobra.Command, args []string) (*buildContext, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("requires exactly one file argument")
	}

	file := args[0]
	if filepath.Ext(file) == "" {
		file += ".tex"
	}

	if !strings.HasSuffix(file, ".tex") && !strings.HasSuffix(file, ".ltx") {
		return nil, fmt.Errorf("file must have .tex or .ltx extension")
	}

	cfg, err := config.NewLoader().LoadForBuild(cmd, args)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Verbose)

	absFile, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	store := snapshot.NewStore(logger)
	graph := dep.NewGraph(store, logger)

	registry := latex.NewRegistry(logger)
	latexmod.RegisterBuiltins(registry)

	doc, err := latex.NewDocument(graph, registry, logger, absFile, latex.Options{
		Program:  cfg.Program,
		Pdf:      cfg.Pdf,
		JobName:  cfg.JobName,
		Synctex:  cfg.Synctex,
		LogLimit: cfg.LogLimit,
	})
	if err != nil {
		return nil, err
	}

	if err := doc.Parse(); err != nil {
		return nil, err
	}

	eng := engine.New(graph, engine.Options{
		CachePath: cfg.CachePath,
		MaxErrors: cfg.MaxErrors,
		Force:     cfg.Force,
	}, logger)

	return &buildContext{
		cfg:    cfg,
		logger: logger,
		graph:  graph,
		doc:    doc,
		eng:    eng,
	}, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return logger
}
