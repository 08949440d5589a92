package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memtrace/internal/model"
	"github.com/rcliao/memtrace/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "point",
		Short: "Manage named snapshot points",
	}

	add := &cobra.Command{
		Use:   "add <trace> <name>",
		Short: "Save a named timestamp",
		Args:  cobra.ExactArgs(2),
		Run:   runPointAdd,
	}
	add.Flags().String("at", "end", "Timestamp, or \"end\" for the last token")

	list := &cobra.Command{
		Use:   "list <trace>",
		Short: "List a trace's snapshot points",
		Args:  cobra.ExactArgs(1),
		Run:   runPointList,
	}

	cmd.AddCommand(add, list)
	RootCmd.AddCommand(cmd)
}

func runPointAdd(cmd *cobra.Command, args []string) {
	at, _ := cmd.Flags().GetString("at")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	trace, cutoff, err := loadAt(ctx, s, args[0], at)
	if err != nil {
		exitErr("load trace", err)
	}

	pt, err := s.AddSnapshotPoint(ctx, store.PointParams{
		TraceID:   trace.ID,
		Name:      args[1],
		Timestamp: cutoff,
	})
	if err != nil {
		exitErr("add point", err)
	}

	if textOutput() {
		renderPoints(stdout, []model.SnapshotPoint{*pt})
		return
	}
	printJSON(pt)
}

func runPointList(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	points, err := s.ListSnapshotPoints(cmd.Context(), args[0])
	if err != nil {
		exitErr("list points", err)
	}

	if textOutput() {
		renderPoints(stdout, points)
		return
	}
	printJSON(points)
}
