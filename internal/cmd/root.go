// Package cmd implements the command-line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rlm-analyzer",
	Short: "Recursive code analysis over large source trees",
	Long: `rlm-analyzer answers open-ended questions about a source tree that is
too large for one inference request. A root model inspects the file
index, writes small analysis scripts, and delegates bounded sub-tasks
to satellite model calls, while the engine keeps the conversation
inside its token budget.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional; absence is not an error.
		_ = godotenv.Load()

		level := slog.LevelWarn
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path")
}
