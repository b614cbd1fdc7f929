package access

import (
	"context"
	"database/sql"

	"github.com/nerrad567/solar-controller-core/internal/infrastructure/database"
)

// RecordSample appends a telemetry sample. A zero RecordedAt is stamped
// with the store clock.
func (s *SQLiteStore) RecordSample(ctx context.Context, sample Sample) error {
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = s.now()
	}

	var relay sql.NullInt64
	if sample.RelayState != nil {
		relay = sql.NullInt64{Int64: int64(boolToInt(*sample.RelayState)), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_history (device_id, relay_state, wifi_rssi, uptime, free_heap, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sample.DeviceID, relay, nullInt(sample.WiFiRSSI), nullInt64(sample.Uptime), nullInt64(sample.FreeHeap),
		database.FormatTime(sample.RecordedAt),
	)
	return storeErr("recording sample for "+sample.DeviceID, err)
}

// ListSamples returns samples for deviceID, newest first, bounded by q.
func (s *SQLiteStore) ListSamples(ctx context.Context, deviceID string, q SampleQuery) ([]Sample, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSampleLimit
	}
	limit = min(limit, MaxSampleLimit)

	query := `SELECT device_id, relay_state, wifi_rssi, uptime, free_heap, recorded_at
		FROM device_history WHERE device_id = ?`
	args := []any{deviceID}
	if !q.Since.IsZero() {
		query += ` AND recorded_at >= ?`
		args = append(args, database.FormatTime(q.Since))
	}
	if !q.Until.IsZero() {
		query += ` AND recorded_at <= ?`
		args = append(args, database.FormatTime(q.Until))
	}
	query += ` ORDER BY recorded_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("listing samples", err)
	}
	defer rows.Close()

	samples := make([]Sample, 0)
	for rows.Next() {
		var sm Sample
		var relay, rssi, uptime, heap sql.NullInt64
		var recordedAt string
		if err := rows.Scan(&sm.DeviceID, &relay, &rssi, &uptime, &heap, &recordedAt); err != nil {
			return nil, storeErr("scanning sample", err)
		}
		if relay.Valid {
			v := relay.Int64 == 1
			sm.RelayState = &v
		}
		if rssi.Valid {
			v := int(rssi.Int64)
			sm.WiFiRSSI = &v
		}
		if uptime.Valid {
			sm.Uptime = &uptime.Int64
		}
		if heap.Valid {
			sm.FreeHeap = &heap.Int64
		}
		sm.RecordedAt, _ = database.ParseTime(recordedAt) //nolint:errcheck // Written by this package
		samples = append(samples, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating samples", err)
	}
	return samples, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
