package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/rcliao/memtrace/internal/model"
	"github.com/rcliao/memtrace/internal/snapshot"
	"github.com/rcliao/memtrace/internal/store"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func bytesText(n uint64) string {
	return humanize.IBytes(n)
}

func signedBytesText(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return "+" + humanize.IBytes(uint64(n))
}

func renderTraces(w io.Writer, traces []store.TraceInfo) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tSTREAMS\tTOKENS\tIMPORTED")
	for _, t := range traces {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", t.ID, t.Name, t.StreamCount,
			humanize.Comma(int64(t.TokenCount)), humanize.Time(t.CreatedAt))
	}
	tw.Flush()
}

func renderPoints(w io.Writer, points []model.SnapshotPoint) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tTIMESTAMP")
	for _, p := range points {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", p.ID, p.Name, p.Timestamp)
	}
	tw.Flush()
}

func renderSnapshot(w io.Writer, v snapshotView) {
	sum := v.Summary
	fmt.Fprintf(w, "snapshot at %d\n", sum.Timestamp)
	fmt.Fprintf(w, "  allocations  %d (%s)\n", sum.AllocationCount, bytesText(sum.TotalAllocatedBytes))
	fmt.Fprintf(w, "  resources    %d, %d bound (%s)\n", sum.ResourceCount, sum.BoundResourceCount, bytesText(sum.TotalResourceBytes))
	fmt.Fprintf(w, "  unbound      %s\n", bytesText(sum.TotalUnboundBytes))
	fmt.Fprintf(w, "  largest      %s, smallest %s\n", bytesText(v.LargestResource), bytesText(v.SmallestResource))
	for h := model.HeapType(0); h < model.HeapCount; h++ {
		fmt.Fprintf(w, "  mapped %-9s %s (others %s)\n", h, bytesText(sum.MappedPerHeap[h]), bytesText(sum.MappedByOthers[h]))
	}
	if len(v.Allocations) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tADDRESS\tSIZE\tHEAP\tRESOURCES\tUNBOUND")
	for _, a := range v.Allocations {
		fmt.Fprintf(tw, "%d\t%#x\t%s\t%s\t%d\t%s\n", a.ID, a.BaseAddress, bytesText(a.Size),
			a.PrimaryHeap(), len(a.Resources), bytesText(a.UnboundBytes))
	}
	tw.Flush()
}

func renderHistory(w io.Writer, h *snapshot.ResourceHistory) {
	r := h.Resource
	fmt.Fprintf(w, "resource %d (%s, %s at %#x)\n", r.ID, r.Type, bytesText(r.Size), r.Address)
	tw := newTable(w)
	fmt.Fprintln(tw, "TIMESTAMP\tTHREAD\tEVENT\tPHYSICAL")
	for _, e := range h.Events {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%t\n", e.Timestamp, e.ThreadID, e.Kind, e.Physical)
	}
	tw.Flush()
}

func renderSegments(w io.Writer, segments []segmentView) {
	tw := newTable(w)
	fmt.Fprintln(tw, "HEAP\tPHYSICAL\tREQUESTED\tBOUND\tMAPPED\tOTHERS\tALLOCS\tMEAN\tSTATUS")
	for _, s := range segments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n", s.Heap,
			bytesText(s.TotalPhysicalSize), bytesText(s.TotalVirtualMemoryRequested),
			bytesText(s.TotalBoundVirtualMemory), bytesText(s.TotalPhysicalMappedByProcess),
			bytesText(s.TotalPhysicalMappedByOtherProcesses), s.AllocationCount,
			bytesText(s.MeanAllocationSize), s.Subscription)
	}
	tw.Flush()
}

func renderCompare(w io.Writer, base, diff uint64, deltas []snapshot.HeapUsage) {
	fmt.Fprintf(w, "%d -> %d\n", base, diff)
	tw := newTable(w)
	fmt.Fprintln(tw, "HEAP\tALLOCS\tRESOURCES\tBOUND\tUNBOUND")
	for _, d := range deltas {
		fmt.Fprintf(tw, "%s\t%+d\t%+d\t%s\t%s\n", d.Heap, d.AllocationCount, d.ResourceCount,
			signedBytesText(d.BoundBytes), signedBytesText(d.UnboundBytes))
	}
	tw.Flush()
}

func renderStats(w io.Writer, st *store.Stats) {
	fmt.Fprintf(w, "%s (%s)\n", st.DBPath, bytesText(uint64(st.DBSizeBytes)))
	fmt.Fprintf(w, "  traces %d, tokens %s, segments %d, snapshot points %d\n",
		st.TotalTraces, humanize.Comma(int64(st.TotalTokens)), st.TotalSegments, st.TotalPoints)
	if len(st.Traces) == 0 {
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tTOKENS\tPOINTS")
	for _, t := range st.Traces {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", t.ID, t.Name, humanize.Comma(int64(t.Tokens)), t.Points)
	}
	tw.Flush()
}
