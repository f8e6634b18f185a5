package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/teranos/showrunner/internal/plan"
	"github.com/teranos/showrunner/operators/browser"
	"github.com/teranos/showrunner/waypoint"
)

// WaypointsOptions holds flags for the waypoints command.
type WaypointsOptions struct {
	*RootOptions
	Output        string
	NoReturnToTop bool
}

// NewWaypointsCommand creates the waypoints command.
func NewWaypointsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WaypointsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "waypoints <url>",
		Short: "Generate a scroll journey for a page",
		Long: `Open a page, detect its sections and print the scroll journey through
them. With --out the journey is written as YAML for a plan's
journey.waypoints_file, where it can be edited or overridden.

Example:
  showrunner waypoints https://example.com --out landing.waypoints.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWaypoints(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "write the waypoints YAML to this file")
	cmd.Flags().BoolVar(&opts.NoReturnToTop, "no-return-to-top", false, "end the journey at the last section")

	return cmd
}

func runWaypoints(cmd *cobra.Command, opts *WaypointsOptions, url string) error {
	cfg, logger := opts.settings(), opts.logger()
	ctx := cmd.Context()

	b, err := browser.New(ctx, cfg.Browser, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start browser", err)
	}
	defer b.Close()

	if err := b.Navigate(ctx, url); err != nil {
		return WrapExitError(ExitCommandError, "failed to open page", err)
	}
	regions, err := b.Regions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to detect sections", err)
	}

	planner := newWaypointPlanner(cfg.Browser, logger)
	planner.ReturnToTop = !opts.NoReturnToTop
	waypoints := planner.Generate(regions)
	if len(waypoints) == 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("no sections found on %s", url))
	}

	writeWaypoints(cmd.OutOrStdout(), waypoints)

	if opts.Output == "" {
		return nil
	}
	f, err := os.Create(opts.Output)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create output file", err)
	}
	defer f.Close()
	if err := plan.WriteWaypoints(f, plan.WaypointsFile{URL: url, Waypoints: waypoints}); err != nil {
		return WrapExitError(ExitCommandError, "failed to write waypoints", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d waypoints to %s\n", len(waypoints), opts.Output)
	return nil
}

func writeWaypoints(w io.Writer, waypoints []waypoint.Waypoint) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Name", "Type", "Offset", "Pause", "Scroll"})
	for i, wp := range waypoints {
		table.Append([]string{
			strconv.Itoa(i),
			wp.Name,
			wp.Type,
			strconv.FormatFloat(wp.Offset, 'f', 0, 64),
			wp.Pause.String(),
			wp.ScrollDuration.String(),
		})
	}
	table.SetFooter([]string{"", "", "", "", "total", waypoint.Seal(waypoints).TotalDuration().String()})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT})
	table.SetBorder(false)
	table.Render()
}
