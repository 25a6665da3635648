package cli

import (
	"github.com/spf13/cobra"

	"autolender/internal/app"
)

var onceCommit bool

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run every configured operation a single time and print the outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Once(cmd.Context(), app.OnceOptions{Commit: onceCommit}, cmd.OutOrStdout())
	},
}

func init() {
	onceCmd.Flags().BoolVar(&onceCommit, "commit", false, "Place operations and persist state instead of a dry run")
}
