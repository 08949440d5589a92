// Package store persists imported traces and snapshot points in SQLite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/memtrace/internal/model"
)

// ErrNotFound is returned when a trace or snapshot point does not exist.
var ErrNotFound = errors.New("not found")

// TraceInfo is the metadata of a stored trace, without its tokens.
type TraceInfo struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	TargetProcessID uint64    `json:"target_pid,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	StreamCount     int       `json:"stream_count"`
	TokenCount      int       `json:"token_count"`
}

// PointParams holds parameters for saving a snapshot point.
type PointParams struct {
	TraceID   string
	Name      string
	Timestamp uint64
}

// Store defines the trace storage interface.
type Store interface {
	// PutTrace stores a whole trace. The trace's ID and CreatedAt are assigned.
	PutTrace(ctx context.Context, t *model.Trace) (*TraceInfo, error)

	// LoadTrace reads a trace and all its tokens by id or name.
	LoadTrace(ctx context.Context, ref string) (*model.Trace, error)

	// ListTraces lists stored traces, newest first.
	ListTraces(ctx context.Context) ([]TraceInfo, error)

	// RmTrace deletes a trace together with its tokens and snapshot points.
	RmTrace(ctx context.Context, ref string) error

	// AddSnapshotPoint saves a named timestamp for a trace.
	AddSnapshotPoint(ctx context.Context, p PointParams) (*model.SnapshotPoint, error)

	// ListSnapshotPoints lists a trace's snapshot points in timestamp order.
	ListSnapshotPoints(ctx context.Context, traceID string) ([]model.SnapshotPoint, error)

	// GetSnapshotPoint finds a trace's snapshot point by id or name.
	GetSnapshotPoint(ctx context.Context, traceID, ref string) (*model.SnapshotPoint, error)

	// Close closes the store.
	Close() error
}
