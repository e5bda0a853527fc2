package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	platformconfig "github.com/gouravdev246/anonymous-comment/internal/platform/config"
	"github.com/gouravdev246/anonymous-comment/internal/platform/run"
)

func main() {
	platformconfig.LoadDotenv()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		run.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "comments",
		Short:        "anonymous comment board with a live synced reply tree",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newDiagnoseStorageCmd(),
	)
	return cmd
}
