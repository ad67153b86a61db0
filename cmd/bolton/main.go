package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bolton",
		Short: "Bolton — third-party integrations as pull requests",
		Long:  "Bolton applies integration template bundles to a repository in a sandbox and publishes the result as a pull request.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newIntegrationsCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bolton %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	// Local .env files may carry BOLTON_GITHUB_TOKEN and friends.
	godotenv.Load()
	os.Exit(execute(newRootCmd()))
}
