// Package ledger persists one row per dispatch so tallies survive restarts.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/spork/internal/metrics"
	"github.com/mattjoyce/spork/internal/spork"
)

const maxErrorBytes = 4 * 1024

// Entry is one recorded dispatch.
type Entry struct {
	ID        string        `json:"id"`
	Pattern   string        `json:"pattern"`
	Strategy  string        `json:"strategy"`
	PID       int           `json:"pid"`
	Target    string        `json:"target,omitempty"`
	Changes   int           `json:"changes"`
	Duration  time.Duration `json:"duration_ns"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Ledger writes and queries the dispatch_log table.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// New wraps an open database bootstrapped by storage.OpenSQLite.
func New(db *sql.DB, logger *slog.Logger) *Ledger {
	return &Ledger{db: db, logger: logger.With(slog.String("component", "ledger"))}
}

// Record stores ev.
func (l *Ledger) Record(ctx context.Context, ev spork.Event) error {
	if ev.ID == "" {
		return fmt.Errorf("dispatch id is empty")
	}

	var target, kind, msg any
	if ev.Target != "" {
		target = ev.Target
	}
	if ev.Err != nil {
		kind = ev.ErrorKind()
		s := ev.Err.Error()
		if len(s) > maxErrorBytes {
			s = s[:maxErrorBytes]
		}
		msg = s
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO dispatch_log(
  id, pattern, strategy, pid, target, changes, duration_ns, error_kind, error, created_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, ev.ID, ev.Pattern.String(), ev.Strategy.String(), ev.PID, target, ev.Changes,
		int64(ev.Duration), kind, msg, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// Summary aggregates dispatches created at or after since. A zero since
// covers the whole ledger.
func (l *Ledger) Summary(ctx context.Context, since time.Time) (metrics.Snapshot, error) {
	sinceS := ""
	if !since.IsZero() {
		sinceS = since.UTC().Format(time.RFC3339Nano)
	}

	row := l.db.QueryRowContext(ctx, `
SELECT
  COUNT(*),
  COALESCE(SUM(CASE WHEN error_kind IS NULL AND strategy = ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN error_kind IS NULL AND strategy = ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN error_kind IS NULL AND strategy = ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN error_kind IS NOT NULL THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(duration_ns), 0)
FROM dispatch_log
WHERE created_at >= ?;
`, spork.DirectSpawn.String(), spork.PrimedSpawn.String(), spork.FullDuplication.String(), sinceS)

	var (
		snap  metrics.Snapshot
		nanos int64
	)
	if err := row.Scan(&snap.Total, &snap.DirectSpawn, &snap.PrimedSpawn, &snap.FullDuplication, &snap.Failures, &nanos); err != nil {
		return metrics.Snapshot{}, fmt.Errorf("summarize dispatches: %w", err)
	}
	snap.TotalTime = time.Duration(nanos)
	if snap.Total > 0 {
		snap.AverageTime = snap.TotalTime / time.Duration(snap.Total)
	}
	return snap, nil
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT id, pattern, strategy, pid, target, changes, duration_ns, error_kind, error, created_at
FROM dispatch_log
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e          Entry
			target     sql.NullString
			errorKind  sql.NullString
			errorMsg   sql.NullString
			nanos      int64
			createdAtS string
		)
		if err := rows.Scan(&e.ID, &e.Pattern, &e.Strategy, &e.PID, &target, &e.Changes, &nanos, &errorKind, &errorMsg, &createdAtS); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		e.Target = target.String
		e.ErrorKind = errorKind.String
		e.Error = errorMsg.String
		e.Duration = time.Duration(nanos)
		if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	return out, nil
}

// Prune deletes entries older than retention and returns how many went.
func (l *Ledger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339Nano)

	res, err := l.db.ExecContext(ctx, `DELETE FROM dispatch_log WHERE created_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune dispatches: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune dispatches: %w", err)
	}
	return n, nil
}

// ObserveDispatch implements spork.Observer. Write failures are logged, not
// returned, since a dispatch has already happened by the time it is seen.
func (l *Ledger) ObserveDispatch(ev spork.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Record(ctx, ev); err != nil {
		l.logger.Warn("failed to record dispatch", "dispatch_id", ev.ID, "error", err)
	}
}
