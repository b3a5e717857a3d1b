package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sinksocket "github.com/eugener/sinksocket/internal"
	"github.com/eugener/sinksocket/internal/sri"
)

// SaveSRI inserts or replaces the descriptor for s.StreamID.
func (s *Store) SaveSRI(ctx context.Context, desc sinksocket.StreamSRI) error {
	body, err := sri.Encode(desc)
	if err != nil {
		return fmt.Errorf("encode sri: %w", err)
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO stream_sris (stream_id, body, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(stream_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		desc.StreamID, string(body), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetSRI returns the persisted descriptor for streamID.
func (s *Store) GetSRI(ctx context.Context, streamID string) (sinksocket.StreamSRI, error) {
	var body string
	err := s.read.QueryRowContext(ctx,
		`SELECT body FROM stream_sris WHERE stream_id = ?`, streamID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return sinksocket.StreamSRI{}, sinksocket.ErrNotFound
	}
	if err != nil {
		return sinksocket.StreamSRI{}, err
	}
	return sri.Decode([]byte(body))
}

// ListSRIs returns all persisted descriptors ordered by stream ID.
func (s *Store) ListSRIs(ctx context.Context) ([]sinksocket.StreamSRI, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT body FROM stream_sris ORDER BY stream_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sinksocket.StreamSRI
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		desc, err := sri.Decode([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, rows.Err()
}

// DeleteSRI removes the descriptor for streamID.
func (s *Store) DeleteSRI(ctx context.Context, streamID string) error {
	res, err := s.write.ExecContext(ctx, `DELETE FROM stream_sris WHERE stream_id = ?`, streamID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sinksocket.ErrNotFound
	}
	return nil
}
