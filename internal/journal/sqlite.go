package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "pacer/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS outcomes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	at          TEXT    NOT NULL,
	task_id     TEXT    NOT NULL,
	url         TEXT,
	host        TEXT    NOT NULL,
	priority    INTEGER NOT NULL DEFAULT 0,
	outcome     TEXT    NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	queue_ms    INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	err         TEXT,
	meta        TEXT
);
CREATE INDEX IF NOT EXISTS outcomes_host ON outcomes(host);
CREATE INDEX IF NOT EXISTS outcomes_outcome ON outcomes(outcome);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal.path is required for sqlite driver")
	}
	if filepath.Ext(path) == "" {
		path += ".db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Append(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	var meta any
	if len(r.Metadata) > 0 {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes(at, task_id, url, host, priority, outcome, attempts, queue_ms, duration_ms, err, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		r.At.UTC().Format(time.RFC3339Nano), r.TaskID, nullStr(r.URL), r.Host, r.Priority, r.Outcome,
		r.Attempts, r.QueueDelay, r.Duration, nullStr(r.Error), meta,
	)
	return err
}

func (s *sqliteStore) Summary(ctx context.Context) (Summary, error) {
	out := newSummary()
	if s == nil || s.db == nil {
		return out, ErrClosed
	}
	if err := s.group(ctx, "outcome", out.ByOutcome); err != nil {
		return out, err
	}
	if err := s.group(ctx, "host", out.ByHost); err != nil {
		return out, err
	}
	for _, n := range out.ByOutcome {
		out.Total += n
	}
	return out, nil
}

func (s *sqliteStore) group(ctx context.Context, col string, into map[string]int64) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+col+`, COUNT(*) FROM outcomes GROUP BY `+col)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		into[k] = n
	}
	return rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
