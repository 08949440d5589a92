package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/memtrace/internal/model"
	"github.com/rcliao/memtrace/internal/snapshot"
	"github.com/rcliao/memtrace/internal/store"
	"github.com/rcliao/memtrace/internal/tracefile"
	"github.com/rcliao/memtrace/internal/worker"
)

// resolveCutoff turns --at into a timestamp: "end", a snapshot point name or
// id, or a number. A point whose name looks like a number wins over the number.
func resolveCutoff(ctx context.Context, s store.Store, trace *model.Trace, at string) (uint64, error) {
	if at == "" || at == "end" {
		return trace.LastTimestamp(), nil
	}
	pt, err := s.GetSnapshotPoint(ctx, trace.ID, at)
	if err == nil {
		return pt.Timestamp, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}
	ts, perr := tracefile.ParseUint(at)
	if perr != nil {
		return 0, err
	}
	return ts, nil
}

// loadAt loads a trace and the cutoff named by at.
func loadAt(ctx context.Context, s store.Store, ref, at string) (*model.Trace, uint64, error) {
	trace, err := s.LoadTrace(ctx, ref)
	if err != nil {
		return nil, 0, err
	}
	cutoff, err := resolveCutoff(ctx, s, trace, at)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve --at %q: %w", at, err)
	}
	return trace, cutoff, nil
}

// buildAt replays trace on a background worker, giving up if ctx ends first.
func buildAt(ctx context.Context, trace *model.Trace, cutoff uint64) (*snapshot.Snapshot, error) {
	job := worker.New(trace, logger).Submit(ctx, cutoff)
	select {
	case <-job.Done():
		return job.Result()
	case <-ctx.Done():
		logger.Debug("abandoned snapshot build", zap.Uint64("cutoff", cutoff))
		return nil, ctx.Err()
	}
}

// snapshotAt is the common path of the read-only commands.
func snapshotAt(ctx context.Context, ref, at string) (*snapshot.Snapshot, error) {
	s, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	trace, cutoff, err := loadAt(ctx, s, ref, at)
	if err != nil {
		return nil, err
	}
	return buildAt(ctx, trace, cutoff)
}

// exitReplayErr reports a replay failure with a hint for malformed traces.
func exitReplayErr(msg string, err error) {
	if errors.Is(err, snapshot.ErrMalformedTrace) {
		msg += " (trace is inconsistent)"
	}
	exitErr(msg, err)
}
