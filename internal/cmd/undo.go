package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Undo the most recent completion or skip",
	Long: `Roll the project back to before the most recent completion. When that
step has been run more than once, only its latest run is undone and the
step stays completed. A skip with no completion after it is undone first,
restoring the statuses it overwrote.`,
	Args: cobra.NoArgs,
	RunE: runUndo,
}

func init() {
	rootCmd.AddCommand(undoCmd)
}

func runUndo(cmd *cobra.Command, args []string) error {
	a, err := openProject()
	if err != nil {
		return err
	}
	defer a.Close()

	_, hasCompletion := a.history.LastCompletedChronological()
	_, hasSkip := a.history.PendingSkip()
	if !hasCompletion && !hasSkip {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to undo")
		return nil
	}

	defer report(a.bus, cmd.OutOrStdout())()
	if !a.orch.Undo() {
		return fmt.Errorf("undo failed; see the debug log for details")
	}
	return nil
}
