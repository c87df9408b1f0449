// Package history archives every committed spray in SQLite so the water
// usage outlives the 50-entry in-memory log.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-weedbot/internal/log"
	"github.com/teslashibe/go-weedbot/pkg/actuation"
)

const queueSize = 256

// Spray is one archived spray.
type Spray struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	Kind       string    `json:"kind"`
	DurationS  float64   `json:"duration_s"`
	AmountMl   float64   `json:"amount_ml"`
	LevelAfter float64   `json:"level_after_ml"`
}

// KindSummary aggregates sprays of one kind.
type KindSummary struct {
	Count   int     `json:"count"`
	TotalMl float64 `json:"total_ml"`
}

// Summary aggregates the whole archive.
type Summary struct {
	Count   int                    `json:"count"`
	TotalMl float64                `json:"total_ml"`
	ByKind  map[string]KindSummary `json:"by_kind"`
	First   *time.Time             `json:"first,omitempty"`
	Last    *time.Time             `json:"last,omitempty"`
}

// Archive is a SQLite-backed spray archive. It implements actuation.Observer;
// events are queued and written by Run so the control loop never waits on disk.
type Archive struct {
	db      *sql.DB
	queue   chan actuation.SprayEvent
	dropped atomic.Int64
	logger  *slog.Logger
}

// Open opens (creating if needed) the archive at path. Use ":memory:" for an
// in-memory archive.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection: an in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	a := &Archive{
		db:     db,
		queue:  make(chan actuation.SprayEvent, queueSize),
		logger: log.Component("history"),
	}
	if err := a.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return a, nil
}

func (a *Archive) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sprays (
		id TEXT PRIMARY KEY,
		at INTEGER NOT NULL,
		kind TEXT NOT NULL,
		duration_s REAL NOT NULL,
		amount_ml REAL NOT NULL,
		level_after_ml REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sprays_at ON sprays(at);
	`
	_, err := a.db.Exec(schema)
	return err
}

// OnSpray implements actuation.Observer. It never blocks; when the queue is
// full the event is dropped and counted.
func (a *Archive) OnSpray(ev actuation.SprayEvent) {
	select {
	case a.queue <- ev:
	default:
		a.dropped.Add(1)
	}
}

// OnRefusal implements actuation.Observer.
func (a *Archive) OnRefusal(actuation.RefusalReason) {}

// Dropped returns how many events were dropped because the queue was full.
func (a *Archive) Dropped() int64 {
	return a.dropped.Load()
}

// Run writes queued events until ctx is done, then flushes what is left.
func (a *Archive) Run(ctx context.Context) {
	for {
		select {
		case ev := <-a.queue:
			a.write(context.Background(), ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-a.queue:
					a.write(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

func (a *Archive) write(ctx context.Context, ev actuation.SprayEvent) {
	if err := a.Record(ctx, ev); err != nil {
		a.logger.Warn("archive spray failed", "id", ev.Entry.ID, "error", err)
	}
}

// Record inserts one spray. Re-recording the same ID is a no-op.
func (a *Archive) Record(ctx context.Context, ev actuation.SprayEvent) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO sprays (id, at, kind, duration_s, amount_ml, level_after_ml) VALUES (?, ?, ?, ?, ?, ?)",
		ev.Entry.ID, ev.Entry.Time.UnixMilli(), string(ev.Entry.Kind), ev.Entry.DurationS, ev.Entry.AmountMl, ev.LevelMl,
	)
	if err != nil {
		return fmt.Errorf("insert spray: %w", err)
	}
	return nil
}

// Recent returns up to limit sprays, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Spray, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		"SELECT id, at, kind, duration_s, amount_ml, level_after_ml FROM sprays ORDER BY at DESC, rowid DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sprays: %w", err)
	}
	defer rows.Close()

	out := []Spray{}
	for rows.Next() {
		var s Spray
		var atMs int64
		if err := rows.Scan(&s.ID, &atMs, &s.Kind, &s.DurationS, &s.AmountMl, &s.LevelAfter); err != nil {
			return nil, fmt.Errorf("scan spray: %w", err)
		}
		s.At = time.UnixMilli(atMs)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Summary aggregates every archived spray.
func (a *Archive) Summary(ctx context.Context) (Summary, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT kind, COUNT(*), COALESCE(SUM(amount_ml), 0), MIN(at), MAX(at) FROM sprays GROUP BY kind",
	)
	if err != nil {
		return Summary{}, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	sum := Summary{ByKind: map[string]KindSummary{}}
	var first, last int64
	for rows.Next() {
		var kind string
		var ks KindSummary
		var minAt, maxAt int64
		if err := rows.Scan(&kind, &ks.Count, &ks.TotalMl, &minAt, &maxAt); err != nil {
			return Summary{}, fmt.Errorf("scan summary: %w", err)
		}
		sum.ByKind[kind] = ks
		sum.Count += ks.Count
		sum.TotalMl += ks.TotalMl
		if first == 0 || minAt < first {
			first = minAt
		}
		if maxAt > last {
			last = maxAt
		}
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("iterate rows: %w", err)
	}
	if sum.Count > 0 {
		f, l := time.UnixMilli(first), time.UnixMilli(last)
		sum.First, sum.Last = &f, &l
	}
	return sum, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

var _ actuation.Observer = (*Archive)(nil)
