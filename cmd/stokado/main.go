package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/celo-org/stokado/pkg/stokado/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stokado",
		Short: "Signed upload authorization and CDN cache flushing",
		Long: `Stokado hands out presigned upload grants to Celo accounts that prove
control of their registered data encryption key, and invalidates CDN
paths when uploaded objects change.

Configuration is read from the environment (and an optional .env file):

` + config.Usage(),
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewFlushWorkerCommand())
	return rootCmd
}
