package sqlite

import (
	"context"
	"strings"

	sinksocket "github.com/eugener/sinksocket/internal"
)

// UpsertRollups writes rollups in a single transaction. Each rollup is a full
// recomputation of its bucket, so an existing row is replaced, not added to.
func (s *Store) UpsertRollups(ctx context.Context, rollups []sinksocket.ThroughputRollup) error {
	if len(rollups) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO throughput_rollups (component_id, stream_id, period, bucket,
		 sample_count, bytes, packets, peak_bytes_per_sec)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(component_id, stream_id, period, bucket) DO UPDATE SET
		 sample_count = excluded.sample_count,
		 bytes = excluded.bytes,
		 packets = excluded.packets,
		 peak_bytes_per_sec = excluded.peak_bytes_per_sec`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rollups {
		if _, err := stmt.ExecContext(ctx,
			r.ComponentID, r.StreamID, r.Period, r.Bucket,
			r.SampleCount, r.Bytes, r.Packets, r.PeakRate,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// QueryRollups returns rollups matching the filter, newest bucket first.
func (s *Store) QueryRollups(ctx context.Context, f sinksocket.RollupFilter) ([]sinksocket.ThroughputRollup, error) {
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
	if f.Period != "" {
		clauses = append(clauses, "period = ?")
		args = append(args, f.Period)
	}
	if f.Since != "" {
		clauses = append(clauses, "bucket >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "bucket < ?")
		args = append(args, f.Until)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.read.QueryContext(ctx,
		`SELECT component_id, stream_id, period, bucket,
		 sample_count, bytes, packets, peak_bytes_per_sec
		 FROM throughput_rollups`+where+` ORDER BY bucket DESC, stream_id`, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sinksocket.ThroughputRollup
	for rows.Next() {
		var r sinksocket.ThroughputRollup
		err := rows.Scan(&r.ComponentID, &r.StreamID, &r.Period, &r.Bucket,
			&r.SampleCount, &r.Bytes, &r.Packets, &r.PeakRate)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
