package cmd

import "github.com/spf13/cobra"

var skipCmd = &cobra.Command{
	Use:   "skip <step-id>",
	Short: "Skip ahead to a step",
	Long: `Mark every step before step-id as skipped and step-id and everything
after it as pending. A safety snapshot is taken first, and undo reverts
the skip while nothing has completed since.`,
	Args: cobra.ExactArgs(1),
	RunE: runSkip,
}

func init() {
	rootCmd.AddCommand(skipCmd)
}

func runSkip(cmd *cobra.Command, args []string) error {
	a, err := openProject()
	if err != nil {
		return err
	}
	defer a.Close()

	defer report(a.bus, cmd.OutOrStdout())()
	return a.orch.SkipToStep(args[0])
}
