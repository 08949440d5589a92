package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath        string       `json:"db_path"`
	DBSizeBytes   int64        `json:"db_size_bytes"`
	TotalTraces   int          `json:"total_traces"`
	TotalTokens   int          `json:"total_tokens"`
	TotalPoints   int          `json:"total_snapshot_points"`
	TotalSegments int          `json:"total_segments"`
	Traces        []TraceStats `json:"traces"`
}

// TraceStats holds per-trace counts.
type TraceStats struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Tokens int    `json:"tokens"`
	Points int    `json:"snapshot_points"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traces`).Scan(&st.TotalTraces)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tokens`).Scan(&st.TotalTokens)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshot_points`).Scan(&st.TotalPoints)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM segments`).Scan(&st.TotalSegments)

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.token_count,
		       (SELECT COUNT(*) FROM snapshot_points p WHERE p.trace_id = t.id) AS points
		FROM traces t ORDER BY t.token_count DESC`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ts TraceStats
		rows.Scan(&ts.ID, &ts.Name, &ts.Tokens, &ts.Points)
		st.Traces = append(st.Traces, ts)
	}

	return st, nil
}
