// Package cli implements toolbox-admin, the operator command line for the
// toolbox provisioner.
package cli

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "toolboxd.yaml"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "toolbox-admin",
		Short:         "Toolbox provisioner administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newCompileCmd(),
		newValidateCmd(),
		newRouteCmd(),
		newVersionCmd(),
	)
	return root
}
