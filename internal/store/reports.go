package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/skillgate/internal/dispatch"
	"github.com/nidhogg/skillgate/internal/gateway"
)

// Record persists a dispatch report.
func (s *Store) Record(ctx context.Context, r *dispatch.Report) error {
	matched, _ := json.Marshal(r.Matched)
	statuses, _ := json.Marshal(r.Statuses)
	failures, _ := json.Marshal(r.Failures)
	silent, _ := json.Marshal(r.Silent)

	_, err := s.db.Exec(ctx, `
		INSERT INTO dispatch_reports
			(id, trigger, state, suppressed, matched, statuses, failures, silent, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		r.ID.String(), r.Trigger, string(r.State), r.Suppressed,
		matched, statuses, failures, silent,
		r.StartedAt, r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record report %s: %w", r.ID, err)
	}
	return nil
}

// ListReports returns up to limit most recent reports, newest first.
func (s *Store) ListReports(ctx context.Context, limit int) ([]*dispatch.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id::text, trigger, state, suppressed, matched, statuses, failures, silent, started_at, duration_ms
		FROM dispatch_reports
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []*dispatch.Report
	for rows.Next() {
		var (
			r                                   dispatch.Report
			id, state                           string
			matched, statuses, failures, silent []byte
			durationMS                          int64
		)
		if err := rows.Scan(&id, &r.Trigger, &state, &r.Suppressed,
			&matched, &statuses, &failures, &silent, &r.StartedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.ID, _ = uuid.Parse(id)
		r.State = gateway.State(state)
		_ = json.Unmarshal(matched, &r.Matched)
		_ = json.Unmarshal(statuses, &r.Statuses)
		_ = json.Unmarshal(failures, &r.Failures)
		_ = json.Unmarshal(silent, &r.Silent)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, &r)
	}
	return out, rows.Err()
}

var _ dispatch.Sink = (*Store)(nil)
