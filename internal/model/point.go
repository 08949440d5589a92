package model

import "time"

// SnapshotPoint is a named timestamp saved against a trace.
type SnapshotPoint struct {
	ID        string    `json:"id"`
	TraceID   string    `json:"trace_id"`
	Name      string    `json:"name"`
	Timestamp uint64    `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}
