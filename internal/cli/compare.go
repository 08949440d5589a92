package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memtrace/internal/model"
	"github.com/rcliao/memtrace/internal/snapshot"
	"github.com/rcliao/memtrace/internal/worker"
)

type compareView struct {
	Base   uint64               `json:"base"`
	Diff   uint64               `json:"diff"`
	Deltas []snapshot.HeapUsage `json:"deltas"`
}

func init() {
	cmd := &cobra.Command{
		Use:   "compare <trace>",
		Short: "Compare heap usage between two points in time",
		Long:  "Build snapshots at --base and --diff and report diff minus base per heap.",
		Args:  cobra.ExactArgs(1),
		Run:   runCompare,
	}

	cmd.Flags().String("base", "", "Base timestamp or snapshot point (required)")
	cmd.Flags().String("diff", "end", "Diff timestamp or snapshot point")
	cmd.MarkFlagRequired("base")

	RootCmd.AddCommand(cmd)
}

func runCompare(cmd *cobra.Command, args []string) {
	baseAt, _ := cmd.Flags().GetString("base")
	diffAt, _ := cmd.Flags().GetString("diff")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	trace, base, err := loadAt(ctx, s, args[0], baseAt)
	if err != nil {
		exitErr("load trace", err)
	}
	diff, err := resolveCutoff(ctx, s, trace, diffAt)
	if err != nil {
		exitErr("resolve --diff", err)
	}

	snaps, err := worker.BuildAll(ctx, trace, []uint64{base, diff}, cfg.Workers.Parallelism,
		snapshot.WithLogger(logger))
	if err != nil {
		exitReplayErr("snapshot", err)
	}

	v := compareView{Base: base, Diff: diff}
	for _, h := range []model.HeapType{model.HeapLocal, model.HeapInvisible, model.HeapSystem} {
		d, err := snapshot.CompareHeap(snaps[0], snaps[1], h)
		if err != nil {
			exitErr("compare", err)
		}
		v.Deltas = append(v.Deltas, d)
	}

	if textOutput() {
		renderCompare(stdout, v.Base, v.Diff, v.Deltas)
		return
	}
	printJSON(v)
}
