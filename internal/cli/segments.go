package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memtrace/internal/model"
	"github.com/rcliao/memtrace/internal/snapshot"
)

type segmentView struct {
	*snapshot.SegmentStatus
	Subscription snapshot.SubscriptionStatus `json:"subscription"`
	UsageBytes   map[string]uint64           `json:"physical_bytes_per_usage"`
}

func newSegmentView(st *snapshot.SegmentStatus) segmentView {
	v := segmentView{
		SegmentStatus: st,
		Subscription:  st.Subscription(),
		UsageBytes:    make(map[string]uint64),
	}
	for u, n := range st.PhysicalBytesPerUsage {
		if n > 0 {
			v.UsageBytes[model.UsageType(u).String()] = n
		}
	}
	return v
}

func init() {
	cmd := &cobra.Command{
		Use:   "segments <trace>",
		Short: "Show per-heap occupancy and oversubscription",
		Args:  cobra.ExactArgs(1),
		Run:   runSegments,
	}

	cmd.Flags().String("at", "end", "Timestamp, snapshot point name or id, or \"end\"")
	cmd.Flags().String("heap", "", "Only this heap: local, invisible or system")

	RootCmd.AddCommand(cmd)
}

func runSegments(cmd *cobra.Command, args []string) {
	at, _ := cmd.Flags().GetString("at")
	heapName, _ := cmd.Flags().GetString("heap")

	heaps := []model.HeapType{model.HeapLocal, model.HeapInvisible, model.HeapSystem}
	if heapName != "" {
		h, err := model.ParseHeapType(heapName)
		if err != nil {
			exitErr("heap", err)
		}
		heaps = []model.HeapType{h}
	}

	snap, err := snapshotAt(cmd.Context(), args[0], at)
	if err != nil {
		exitReplayErr("snapshot", err)
	}

	views := make([]segmentView, 0, len(heaps))
	for _, h := range heaps {
		st, err := snapshot.GetSegmentStatus(snap, h)
		if err != nil {
			exitErr("segment status", err)
		}
		views = append(views, newSegmentView(st))
	}

	if textOutput() {
		renderSegments(stdout, views)
		return
	}
	printJSON(views)
}
