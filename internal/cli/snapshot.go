package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memtrace/internal/export"
	"github.com/rcliao/memtrace/internal/snapshot"
)

type snapshotView struct {
	snapshot.Summary
	LargestResource  uint64                        `json:"largest_resource"`
	SmallestResource uint64                        `json:"smallest_resource"`
	Allocations      []*snapshot.VirtualAllocation `json:"-"`
	Export           []export.Allocation           `json:"allocations,omitempty"`
}

func newSnapshotView(s *snapshot.Snapshot, withAllocations bool) snapshotView {
	v := snapshotView{
		Summary:          s.Summary(),
		LargestResource:  s.LargestResourceSize(),
		SmallestResource: s.SmallestResourceSize(),
	}
	if withAllocations {
		v.Allocations = s.Allocations
		v.Export = export.Build(s).Allocations
	}
	return v
}

func init() {
	cmd := &cobra.Command{
		Use:   "snapshot <trace>",
		Short: "Reconstruct memory state at a point in time",
		Args:  cobra.ExactArgs(1),
		Run:   runSnapshot,
	}

	cmd.Flags().String("at", "end", "Timestamp, snapshot point name or id, or \"end\"")
	cmd.Flags().Bool("allocations", false, "Include every live allocation")

	RootCmd.AddCommand(cmd)
}

func runSnapshot(cmd *cobra.Command, args []string) {
	at, _ := cmd.Flags().GetString("at")
	withAllocations, _ := cmd.Flags().GetBool("allocations")

	snap, err := snapshotAt(cmd.Context(), args[0], at)
	if err != nil {
		exitReplayErr("snapshot", err)
	}

	v := newSnapshotView(snap, withAllocations)
	if textOutput() {
		renderSnapshot(stdout, v)
		return
	}
	printJSON(v)
}
