// Package cmd provides the imsearch CLI commands (spec §6): add,
// build, search, server, train, export, clear-cache, each taking the
// config directory as the sole global argument (spec §4.8).
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lolishinshi/imsearch-go/pkg/version"
)

var confDirFlag string

// NewRootCmd constructs the root imsearch command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "imsearch",
		Short:         "Reverse image search by screenshot",
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&confDirFlag, "conf-dir", "",
		"config directory (defaults to $IMSEARCH_CONF_DIR or the current directory)")

	root.AddCommand(newAddCmd())
	root.AddCommand(newBuildCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newServerCmd())
	root.AddCommand(newTrainCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newClearCacheCmd())

	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
