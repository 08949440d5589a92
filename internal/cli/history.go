package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memtrace/internal/model"
	"github.com/rcliao/memtrace/internal/snapshot"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history <trace>",
		Short: "Show the life cycle of one resource",
		Long: "Resolve a resource in the snapshot at --at, then replay the whole trace and list " +
			"every event touching the resource or the allocation it is bound to.",
		Args: cobra.ExactArgs(1),
		Run:  runHistory,
	}

	cmd.Flags().String("at", "end", "Timestamp, snapshot point name or id, or \"end\"")
	cmd.Flags().Uint64P("resource", "r", 0, "Resource identifier (required)")
	cmd.MarkFlagRequired("resource")

	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	at, _ := cmd.Flags().GetString("at")
	id, _ := cmd.Flags().GetUint64("resource")

	snap, err := snapshotAt(cmd.Context(), args[0], at)
	if err != nil {
		exitReplayErr("snapshot", err)
	}

	r, ok := snap.Resource(model.ResourceIdentifier(id))
	if !ok {
		exitErr("history", fmt.Errorf("%w: resource %d is not live at %d",
			snapshot.ErrResourceNotResolvable, id, snap.Timestamp))
	}

	h, err := snapshot.GenerateResourceHistory(snap, r, snapshot.WithLogger(logger))
	if err != nil {
		exitReplayErr("history", err)
	}

	if textOutput() {
		renderHistory(stdout, h)
		return
	}
	printJSON(h)
}
