package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memtrace/internal/export"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export <trace>",
		Short: "Export a snapshot as JSON",
		Long:  "Export the allocations and bound resources of a snapshot as JSON (stdout or file).",
		Args:  cobra.ExactArgs(1),
		Run:   runExport,
	}

	cmd.Flags().String("at", "end", "Timestamp, snapshot point name or id, or \"end\"")
	cmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	at, _ := cmd.Flags().GetString("at")
	output, _ := cmd.Flags().GetString("output")

	snap, err := snapshotAt(cmd.Context(), args[0], at)
	if err != nil {
		exitReplayErr("snapshot", err)
	}

	if output == "" {
		if err := export.Write(stdout, snap); err != nil {
			exitErr("export", err)
		}
		return
	}

	if err := export.WriteFile(output, snap); err != nil {
		exitErr("export", err)
	}
	fmt.Fprintf(stdout, `{"ok":true,"path":%q,"allocations":%d}`+"\n", output, len(snap.Allocations))
}
