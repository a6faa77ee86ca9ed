package cmd

import (
	"fmt"

	"github.com/Iron-Ham/stepflow/internal/lock"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of every step",
	Long: `Display each step's status, how many runs of it can be undone, and the
order in which steps were completed.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openReadOnly()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	st := newStyles(out)

	fmt.Fprintf(out, "%s %s\n", st.header.Render("Workflow:"), a.def.Name)
	fmt.Fprintf(out, "%s %s\n", st.dim.Render("Project:"), a.projectDir)
	if held, locked := lock.IsLocked(a.projectDir); locked {
		fmt.Fprintf(out, "%s PID %d on %s since %s\n", st.warn.Render("In use:"),
			held.PID, held.Hostname, held.StartedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(out)

	width := termWidth(out)
	statuses := a.history.Statuses()
	for i, step := range a.def.Steps {
		line := fmt.Sprintf("[%d] %-20s %s", i+1, step.ID, st.status(statuses[step.ID]))
		if runs := a.store.EffectiveRunNumber(step.ID); runs > 0 {
			line += st.dim.Render(fmt.Sprintf("  (%d run(s) retained)", runs))
		}
		fmt.Fprintln(out, truncate(line, width))
		if step.Name != "" && step.Name != step.ID {
			fmt.Fprintln(out, truncate("    "+step.Name, width))
		}
	}

	if log := a.history.CompletionLog(); len(log) > 0 {
		fmt.Fprintf(out, "\n%s %v\n", st.dim.Render("Completion order:"), log)
	}
	return nil
}
