package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/showrunner/internal/plan"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.yaml>...",
		Short: "Check demo plans without running them",
		Long: `Check demo plans without running them.

Every plan is decoded strictly (unknown fields are errors), validated and
built, which also reads its waypoint files. All problems of a plan are
reported together.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args)
		},
	}
}

func runValidate(cmd *cobra.Command, paths []string) error {
	out := cmd.OutOrStdout()
	invalid := 0
	for _, path := range paths {
		p, err := plan.Load(path)
		if err == nil {
			_, err = p.Demo()
		}
		if err != nil {
			invalid++
			fmt.Fprintf(out, "✗ %s\n  %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "✓ %s (%s, %d scenes)\n", path, p.Operator, len(p.Scenes))
	}
	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d plan(s) invalid", invalid, len(paths)))
	}
	return nil
}
