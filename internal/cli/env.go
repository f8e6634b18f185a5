package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/showrunner/internal/config"
)

// NewEnvCommand creates the env command.
func NewEnvCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables showrunner reads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			help, err := config.EnvHelp()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to describe environment", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), help)
			return err
		},
	}
}
