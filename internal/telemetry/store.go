package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the telemetry database inside the data directory.
const FileName = "telemetry.db"

// maxZeroResultRows bounds the persisted zero-result log.
const maxZeroResultRows = 100

const dayLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS daily_kinds (
	day   TEXT NOT NULL,
	kind  TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (day, kind)
);
CREATE TABLE IF NOT EXISTS daily_latency (
	day    TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (day, bucket)
);
CREATE TABLE IF NOT EXISTS terms (
	term      TEXT PRIMARY KEY,
	count     INTEGER NOT NULL DEFAULT 0,
	last_seen TIMESTAMP
);
CREATE INDEX IF NOT EXISTS terms_by_count ON terms(count DESC);
CREATE TABLE IF NOT EXISTS misses (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	at    TIMESTAMP NOT NULL
);
`

// SQLiteStore keeps telemetry in its own database file so that query
// processes never write to the index.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init telemetry database: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Apply adds d to the stored totals in one transaction and trims the miss
// log to its newest rows.
func (s *SQLiteStore) Apply(d Delta) error {
	if d.At.IsZero() {
		d.At = time.Now()
	}
	day := d.At.Format(dayLayout)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin telemetry write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exec := func(query string, args ...any) {
		if err == nil {
			_, err = tx.Exec(query, args...)
		}
	}
	for k, n := range d.Kinds {
		exec(`INSERT INTO daily_kinds (day, kind, count) VALUES (?, ?, ?)
			ON CONFLICT(day, kind) DO UPDATE SET count = count + excluded.count`, day, string(k), n)
	}
	for b, n := range d.Latencies {
		exec(`INSERT INTO daily_latency (day, bucket, count) VALUES (?, ?, ?)
			ON CONFLICT(day, bucket) DO UPDATE SET count = count + excluded.count`, day, string(b), n)
	}
	for term, n := range d.Terms {
		exec(`INSERT INTO terms (term, count, last_seen) VALUES (?, ?, ?)
			ON CONFLICT(term) DO UPDATE SET count = count + excluded.count, last_seen = excluded.last_seen`,
			term, n, d.At.UTC())
	}
	for _, q := range d.ZeroResults {
		exec(`INSERT INTO misses (query, at) VALUES (?, ?)`, q, d.At.UTC())
	}
	if len(d.ZeroResults) > 0 {
		exec(`DELETE FROM misses WHERE id NOT IN (SELECT id FROM misses ORDER BY id DESC LIMIT ?)`, maxZeroResultRows)
	}
	if err != nil {
		return fmt.Errorf("write telemetry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit telemetry: %w", err)
	}
	return nil
}

// Load returns the stored totals with the topTerms most frequent terms and
// the zeroResults newest misses. Since is the first recorded day.
func (s *SQLiteStore) Load(topTerms, zeroResults int) (*Snapshot, error) {
	snap := &Snapshot{
		KindCounts:          make(map[Kind]int64),
		LatencyDistribution: make(map[LatencyBucket]int64),
	}

	var first sql.NullString
	if err := s.db.QueryRow(`SELECT MIN(day) FROM daily_kinds`).Scan(&first); err != nil {
		return nil, fmt.Errorf("read first day: %w", err)
	}
	if first.Valid {
		snap.Since, _ = time.Parse(dayLayout, first.String)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM misses`).Scan(&snap.ZeroResultCount); err != nil {
		return nil, fmt.Errorf("count misses: %w", err)
	}

	queries := []struct {
		sql  string
		args []any
		row  func(*sql.Rows) error
	}{
		{`SELECT kind, SUM(count) FROM daily_kinds GROUP BY kind`, nil, func(r *sql.Rows) error {
			var k string
			var n int64
			err := r.Scan(&k, &n)
			snap.KindCounts[Kind(k)] = n
			snap.TotalQueries += n
			return err
		}},
		{`SELECT bucket, SUM(count) FROM daily_latency GROUP BY bucket`, nil, func(r *sql.Rows) error {
			var b string
			var n int64
			err := r.Scan(&b, &n)
			snap.LatencyDistribution[LatencyBucket(b)] = n
			return err
		}},
		{`SELECT term, count FROM terms ORDER BY count DESC, term LIMIT ?`, []any{topTerms}, func(r *sql.Rows) error {
			var tc TermCount
			err := r.Scan(&tc.Term, &tc.Count)
			snap.TopTerms = append(snap.TopTerms, tc)
			return err
		}},
		{`SELECT query FROM misses ORDER BY id DESC LIMIT ?`, []any{zeroResults}, func(r *sql.Rows) error {
			var q string
			err := r.Scan(&q)
			snap.ZeroResultQueries = append(snap.ZeroResultQueries, q)
			return err
		}},
	}
	for _, q := range queries {
		if err := s.each(q.sql, q.args, q.row); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) each(query string, args []any, row func(*sql.Rows) error) error {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("query telemetry: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := row(rows); err != nil {
			return fmt.Errorf("scan telemetry: %w", err)
		}
	}
	return rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
