package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:          "clean",
	Short:        "Remove the files produced by compilation",
	Long:         `Remove every file the build would produce, including auxiliary files, instead of compiling.`,
	RunE:         runClean,
	SilenceUsage: true,
}

func runClean(cmd *cobra.Command, args []string) error {
	bc, err := setup(cmd, args)
	if err != nil {
		return err
	}

	bc.graph.CleanAll()

	if bc.cfg.CachePath != "" {
		if err := os.Remove(bc.cfg.CachePath); err == nil {
			bc.logger.Debug("removed", "path", bc.cfg.CachePath)
		}
	}

	return nil
}
