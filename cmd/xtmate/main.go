package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "config.yaml"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "xtmate",
		Short: "XTmate estimate collaboration API",
		// Errors are printed once by main.
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().String("config", defaultConfigPath, "path to an optional YAML config file")

	root.AddCommand(
		serveCmd(),
		migrateCmd(),
		rolesCmd(),
	)
	return root
}

func configPath(cmd *cobra.Command) string {
	path, err := cmd.Flags().GetString("config")
	if err != nil || path == "" {
		return defaultConfigPath
	}
	return path
}
