package sqlite

import (
	"context"
	"strings"
	"time"

	sinksocket "github.com/eugener/sinksocket/internal"
)

// InsertSamples batch-inserts throughput samples.
func (s *Store) InsertSamples(ctx context.Context, samples []sinksocket.ThroughputSample) error {
	if len(samples) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	const cols = 8
	placeholders := make([]string, len(samples))
	args := make([]any, 0, len(samples)*cols)

	for i, r := range samples {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			r.ID, r.ComponentID, r.StreamID,
			r.Bytes, r.Packets, r.BytesPerSec, r.WindowMs,
			r.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO throughput_samples
		(id, component_id, stream_id, bytes, packets, bytes_per_sec, window_ms, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// QuerySamples returns samples matching the filter, newest first.
func (s *Store) QuerySamples(ctx context.Context, f sinksocket.SampleFilter) ([]sinksocket.ThroughputSample, error) {
	where, args := sampleWhere(f)
	query := `SELECT id, component_id, stream_id, bytes, packets, bytes_per_sec, window_ms, created_at
		FROM throughput_samples` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sinksocket.ThroughputSample
	for rows.Next() {
		var r sinksocket.ThroughputSample
		var createdAt string
		err := rows.Scan(
			&r.ID, &r.ComponentID, &r.StreamID,
			&r.Bytes, &r.Packets, &r.BytesPerSec, &r.WindowMs,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}
		if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountSamples returns the number of samples matching the filter.
func (s *Store) CountSamples(ctx context.Context, f sinksocket.SampleFilter) (int, error) {
	where, args := sampleWhere(f)
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM throughput_samples`+where, args...,
	).Scan(&n)
	return n, err
}

// PurgeSamples deletes samples created before the cutoff.
func (s *Store) PurgeSamples(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM throughput_samples WHERE created_at < ?`, before.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func sampleWhere(f sinksocket.SampleFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.ComponentID != "" {
		clauses = append(clauses, "component_id = ?")
		args = append(args, f.ComponentID)
	}
	if f.StreamID != "" {
		clauses = append(clauses, "stream_id = ?")
		args = append(args, f.StreamID)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.Until)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
