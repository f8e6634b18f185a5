package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/teranos/showrunner"
	"github.com/teranos/showrunner/internal/baselines"
	"github.com/teranos/showrunner/internal/config"
)

// openBaselines returns the configured baseline store, or nil when visual
// checks are off.
func openBaselines(cfg *config.Config) (showrunner.BaselineStore, func(), error) {
	path := cfg.Report.Baselines
	if path == "" {
		return nil, func() {}, nil
	}
	if !cfg.Report.BaselineCatalog() {
		return showrunner.DirBaselines(path), func() {}, nil
	}
	catalog, err := baselines.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return catalog, func() { catalog.Close() }, nil
}

// NewBaselinesCommand creates the baselines command.
func NewBaselinesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baselines",
		Short: "Inspect the SQLite baseline catalog",
		Long: `Inspect the SQLite baseline catalog configured by report.baselines
(SHOWRUNNER_BASELINES). Baselines are recorded with
"showrunner run --update-baselines".`,
	}
	cmd.AddCommand(newBaselinesListCommand(rootOpts))
	cmd.AddCommand(newBaselinesRemoveCommand(rootOpts))
	return cmd
}

func newBaselinesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [prefix]",
		Short: "List stored baselines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			catalog, err := openCatalog(rootOpts.settings())
			if err != nil {
				return err
			}
			defer catalog.Close()

			entries, err := catalog.List(cmd.Context(), prefix)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list baselines", err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No baselines stored.")
				return nil
			}
			writeBaselines(cmd.OutOrStdout(), entries)
			return nil
		},
	}
}

func newBaselinesRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>...",
		Short: "Remove baselines so the next --update-baselines run records them again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := openCatalog(rootOpts.settings())
			if err != nil {
				return err
			}
			defer catalog.Close()

			n, err := catalog.Delete(cmd.Context(), args...)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to remove baselines", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d of %d baseline(s)\n", n, len(args))
			return err
		},
	}
}

func openCatalog(cfg *config.Config) (*baselines.Catalog, error) {
	if !cfg.Report.BaselineCatalog() {
		return nil, NewExitError(ExitCommandError, "report.baselines is not a .db catalog")
	}
	catalog, err := baselines.Open(cfg.Report.Baselines)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open baseline catalog", err)
	}
	return catalog, nil
}

func writeBaselines(w io.Writer, entries []baselines.Entry) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Size", "Bytes", "Updated"})
	for _, e := range entries {
		table.Append([]string{
			e.Name,
			fmt.Sprintf("%dx%d", e.Width, e.Height),
			strconv.Itoa(e.Size),
			e.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT})
	table.SetBorder(false)
	table.Render()
}
