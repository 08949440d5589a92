// Package worker builds snapshots off the caller's goroutine.
package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memtrace/internal/model"
	"github.com/rcliao/memtrace/internal/snapshot"
)

// Worker builds snapshots of one trace in the background.
type Worker struct {
	trace *model.Trace
	log   *zap.Logger
}

// New returns a worker for trace. A nil logger discards output.
func New(trace *model.Trace, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{trace: trace, log: log}
}

// Job is one pending build.
type Job struct {
	Cutoff uint64

	done chan struct{}
	once sync.Once
	snap *snapshot.Snapshot
	err  error
}

func newJob(cutoff uint64) *Job {
	return &Job{Cutoff: cutoff, done: make(chan struct{})}
}

func (j *Job) finish(s *snapshot.Snapshot, err error) {
	j.once.Do(func() {
		j.snap, j.err = s, err
		close(j.done)
	})
}

// Done is closed once the build has finished or was cancelled.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result blocks until the job is done and returns its outcome.
func (j *Job) Result() (*snapshot.Snapshot, error) {
	<-j.done
	return j.snap, j.err
}

// Submit starts building the snapshot at cutoff. If ctx is cancelled before
// the replay starts the job finishes with ctx's error and nothing is replayed.
// A replay that has started always runs to completion.
func (w *Worker) Submit(ctx context.Context, cutoff uint64) *Job {
	j := newJob(cutoff)
	go func() {
		if err := ctx.Err(); err != nil {
			w.log.Debug("snapshot build cancelled", zap.Uint64("cutoff", cutoff))
			j.finish(nil, err)
			return
		}
		s, err := snapshot.Build(w.trace, cutoff, snapshot.WithLogger(w.log))
		if err != nil {
			w.log.Warn("snapshot build failed", zap.Uint64("cutoff", cutoff), zap.Error(err))
		}
		j.finish(s, err)
	}()
	return j
}

// BuildAll builds one snapshot per cutoff with at most parallelism replays at
// once. Results keep the order of cutoffs; the first failure cancels the rest.
func BuildAll(ctx context.Context, trace *model.Trace, cutoffs []uint64, parallelism int, opts ...snapshot.Option) ([]*snapshot.Snapshot, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	out := make([]*snapshot.Snapshot, len(cutoffs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, cutoff := range cutoffs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := snapshot.Build(trace, cutoff, opts...)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
