package showrunner

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCase = cases.Title(language.English)

// WriteSummary prints a plain-text account of a run: one line per scene,
// failed steps indented below it, then warnings.
func WriteSummary(w io.Writer, result DemoResult) error {
	state := titleCase.String(result.FinalState().String())
	fmt.Fprintf(w, "Demo %q: %s (%d/%d scenes, %s)\n",
		result.Name, state, result.ScenesCompleted, result.ScenesTotal, roundDuration(result.Duration))
	if result.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", result.RunID)
	}
	if result.Interrupted {
		fmt.Fprintf(w, "Interrupted: %s\n", result.InterruptReason)
	}
	if result.FirstFailure != nil {
		fmt.Fprintf(w, "First failure: scene %d, step %d: %s\n",
			result.FirstFailure.Scene, result.FirstFailure.Step, result.FirstFailure.Message)
	}
	if result.VideoPath != "" {
		fmt.Fprintf(w, "Recording: %s\n", result.VideoPath)
	}

	if len(result.Scenes) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tSCENE\tSTATUS\tSTEPS\tATTEMPTS\tRETRIES\tDURATION")
		for _, sc := range result.Scenes {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d/%d\t%d\t%d\t%s\n",
				sc.Index, sc.Name, sceneStatus(sc), sc.StepsCompleted, sc.StepsTotal,
				sc.Attempts, sc.RetriesUsed, roundDuration(sc.Duration))
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		for _, sc := range result.Scenes {
			for _, st := range sc.Steps {
				if st.Success || st.Error == nil {
					continue
				}
				fmt.Fprintf(w, "  scene %d step %d (%s): %s\n", sc.Index, st.Index, st.Label, st.Error.Error())
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings (%d):\n", len(result.Warnings))
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "  - %s\n", strings.TrimSpace(warning))
		}
	}
	return nil
}

func roundDuration(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
