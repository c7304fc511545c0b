package cmd

import (
	"fmt"
	"os"

	"github.com/skapfer/rubber/internal/latex"
	"github.com/skapfer/rubber/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:          "rubber",
	Short:        "An automated system for building LaTeX documents",
	Long:         `Compile a LaTeX document, rerunning the compiler and the auxiliary tools (BibTeX, makeindex) as many times as needed until the output stabilizes.`,
	RunE:         runBuild,
	SilenceUsage: true,
	Args:         cobra.ArbitraryArgs,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)
	rootCmd.PersistentFlags().String("program", "", "TeX engine to run (e.g. latex, pdflatex, xelatex)")
	rootCmd.PersistentFlags().BoolP("pdf", "d", false, "Produce PDF output")
	rootCmd.PersistentFlags().Bool("synctex", false, "Enable SyncTeX support")
	rootCmd.PersistentFlags().String("jobname", "", "Set the job name for the output files")
	rootCmd.PersistentFlags().IntP("maxerr", "n", 0, "Display at most NUM errors (default: 10)")
	rootCmd.PersistentFlags().String("cache", "", "Snapshot cache file")
	rootCmd.PersistentFlags().BoolP("force", "f", false, "Force at least one compilation")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(watchCmd)

	viper.SetDefault("program", "latex")
	viper.SetDefault("max_errors", 10)
	viper.SetDefault("log_limit", latex.DefaultLogLimit)
}
