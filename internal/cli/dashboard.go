package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/showrunner"
)

// NewDashboardCommand creates the dashboard command.
func NewDashboardCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard [report-dir]",
		Short: "Rebuild the dashboard of all run reports",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.settings().Report.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			path, err := showrunner.GenerateDashboard(dir, rootOpts.logger())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to generate dashboard", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Dashboard: %s\n", path)
			return err
		},
	}
}
