package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List the project's snapshot archives",
	Args:  cobra.NoArgs,
	RunE:  runSnapshots,
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	a, err := openReadOnly()
	if err != nil {
		return err
	}
	defer a.Close()

	infos, err := a.store.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	st := newStyles(out)
	if len(infos) == 0 {
		fmt.Fprintln(out, "No snapshots")
		return nil
	}

	fmt.Fprintln(out, st.header.Render(fmt.Sprintf("Snapshots in %s", a.store.Dir())))
	var total int64
	for _, info := range infos {
		total += info.Size
		fmt.Fprintf(out, "  %-40s %10s  %s\n",
			info.Name, formatSize(info.Size), st.dim.Render(info.ModTime.Format("2006-01-02 15:04:05")))
	}
	fmt.Fprintf(out, "\n%d snapshot(s), %s\n", len(infos), formatSize(total))
	return nil
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
