package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	serrors "github.com/Aman-CERP/searchme/internal/errors"
)

// inBatch bounds the number of host parameters in a single IN clause.
const inBatch = 500

// SQLiteStore implements MetadataStore on SQLite.
// WAL mode lets a query process read while an index run writes.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteStore)(nil)

// validateSQLiteIntegrity checks an existing database before opening it for writes.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens or creates the metadata database at path.
// An empty path creates an in-memory store for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		if err := validateSQLiteIntegrity(path); err != nil {
			return nil, serrors.New(serrors.ErrCodeIndexCorrupt, "metadata database is corrupt", err).
				WithDetail("path", path).
				WithSuggestion("Rebuild with: searchme index --force")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: serialises writers and keeps per-connection pragmas alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite, so pragmas go through statements.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16384",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS files (
		path         TEXT PRIMARY KEY,
		size         INTEGER NOT NULL,
		mod_time     INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		type         TEXT NOT NULL,
		mime         TEXT NOT NULL DEFAULT '',
		attributes   TEXT NOT NULL DEFAULT '{}',
		chunk_count  INTEGER NOT NULL DEFAULT 0,
		indexed_at   INTEGER NOT NULL
	);

	-- AUTOINCREMENT keeps ids monotonic so a deleted id is never handed out again.
	CREATE TABLE IF NOT EXISTS records (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		path      TEXT NOT NULL,
		ordinal   INTEGER NOT NULL,
		section   TEXT NOT NULL DEFAULT '',
		snippet   TEXT NOT NULL,
		embedding BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_records_path ON records(path);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case version != CurrentSchemaVersion:
		return serrors.New(serrors.ErrCodeSchemaMismatch,
			fmt.Sprintf("metadata schema version %d, expected %d", version, CurrentSchemaVersion), nil).
			WithDetail("path", s.path).
			WithSuggestion("Rebuild with: searchme index --force")
	}
	return nil
}

// Path returns the database file path ("" for in-memory stores).
func (s *SQLiteStore) Path() string { return s.path }

// ReplaceFile replaces every record of file.Path with records in one transaction.
// It returns the ids assigned to the new records and the ids that were removed.
func (s *SQLiteStore) ReplaceFile(ctx context.Context, file *FileRecord, records []*Record) (added, removed []uint64, err error) {
	return s.ReplaceFileStaged(ctx, file, records, nil)
}

// ReplaceFileStaged is ReplaceFile with a stage step run after the rows are
// written but before they commit. A stage error rolls the whole replacement
// back and is returned unwrapped.
func (s *SQLiteStore) ReplaceFileStaged(ctx context.Context, file *FileRecord, records []*Record,
	stage func(added, removed []uint64) error) (added, removed []uint64, err error) {
	if file == nil || file.Path == "" {
		return nil, nil, fmt.Errorf("file record requires a path")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	removed, err = deleteFileTx(ctx, tx, file.Path)
	if err != nil {
		return nil, nil, err
	}

	attrs, err := encodeAttributes(file.Attributes)
	if err != nil {
		return nil, nil, err
	}
	indexedAt := file.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (path, size, mod_time, content_hash, type, mime, attributes, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.Path, file.Size, file.ModTime.UnixNano(), file.ContentHash, file.Type, file.MIME,
		attrs, len(records), indexedAt.UnixNano())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to save file %s: %w", file.Path, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (path, ordinal, section, snippet, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to prepare record statement: %w", err)
	}
	defer stmt.Close()

	added = make([]uint64, 0, len(records))
	for _, r := range records {
		res, err := stmt.ExecContext(ctx, file.Path, r.Ordinal, r.Section,
			truncateSnippet(r.Snippet, MaxSnippetBytes), encodeEmbedding(r.Embedding))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to insert record %s#%d: %w", file.Path, r.Ordinal, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read record id: %w", err)
		}
		r.ID = uint64(id)
		r.Path = file.Path
		added = append(added, r.ID)
	}

	if stage != nil {
		if err := stage(added, removed); err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit %s: %w", file.Path, err)
	}
	return added, removed, nil
}

// TouchFile updates the stored mtime and size of an unchanged file.
func (s *SQLiteStore) TouchFile(ctx context.Context, path string, modTime time.Time, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE files SET mod_time = ?, size = ? WHERE path = ?`, modTime.UnixNano(), size, path)
	if err != nil {
		return fmt.Errorf("failed to touch %s: %w", path, err)
	}
	return nil
}

const recordColumns = `r.id, r.path, r.ordinal, r.section, r.snippet,
	f.content_hash, f.mod_time, f.size, f.type, f.attributes, f.indexed_at`

// Get returns the record with id, or nil if it does not exist.
func (s *SQLiteStore) Get(ctx context.Context, id uint64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records r JOIN files f ON f.path = r.path WHERE r.id = ?`, int64(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// GetMany resolves ids to records. Missing ids are absent from the map.
func (s *SQLiteStore) GetMany(ctx context.Context, ids []uint64) (map[uint64]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	out := make(map[uint64]*Record, len(ids))
	for start := 0; start < len(ids); start += inBatch {
		end := min(start+inBatch, len(ids))
		placeholders, args := inClause(ids[start:end])

		rows, err := s.db.QueryContext(ctx,
			`SELECT `+recordColumns+` FROM records r JOIN files f ON f.path = r.path WHERE r.id IN (`+placeholders+`)`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query records: %w", err)
		}
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[rec.ID] = rec
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RecordsForFile returns the records of path ordered by ordinal.
func (s *SQLiteStore) RecordsForFile(ctx context.Context, path string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records r JOIN files f ON f.path = r.path
		 WHERE r.path = ? ORDER BY r.ordinal`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetFile returns the file row for path, or nil if it is not indexed.
func (s *SQLiteStore) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT path, size, mod_time, content_hash, type, mime, attributes, chunk_count, indexed_at
		FROM files WHERE path = ?`, path)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

// ListFiles enumerates every indexed file ordered by path.
func (s *SQLiteStore) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, size, mod_time, content_hash, type, mime, attributes, chunk_count, indexed_at
		FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFile removes path and its records, returning the removed record ids.
func (s *SQLiteStore) DeleteFile(ctx context.Context, path string) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	removed, err := deleteFileTx(ctx, tx, path)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete of %s: %w", path, err)
	}
	return removed, nil
}

func deleteFileTx(ctx context.Context, tx *sql.Tx, path string) ([]uint64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM records WHERE path = ? ORDER BY id`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query records of %s: %w", path, err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE path = ?`, path); err != nil {
		return nil, fmt.Errorf("failed to delete records of %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return nil, fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return ids, nil
}

// AllRecordIDs returns every record id in ascending order.
func (s *SQLiteStore) AllRecordIDs(ctx context.Context) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query record ids: %w", err)
	}
	return scanIDs(rows)
}

// DeleteRecords removes individual records and keeps chunk counts in step.
func (s *SQLiteStore) DeleteRecords(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(ids); start += inBatch {
		end := min(start+inBatch, len(ids))
		placeholders, args := inClause(ids[start:end])
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("failed to delete records: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE files SET chunk_count = (SELECT COUNT(*) FROM records r WHERE r.path = files.path)`)
	if err != nil {
		return fmt.Errorf("failed to refresh chunk counts: %w", err)
	}
	return tx.Commit()
}

// Embeddings returns stored embeddings for ids, or for every record when ids is nil.
// Records without a stored embedding are omitted.
func (s *SQLiteStore) Embeddings(ctx context.Context, ids []uint64) (map[uint64][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	out := make(map[uint64][]float32)
	collect := func(rows *sql.Rows) error {
		defer rows.Close()
		for rows.Next() {
			var id int64
			var blob []byte
			if err := rows.Scan(&id, &blob); err != nil {
				return fmt.Errorf("failed to scan embedding: %w", err)
			}
			if vec := decodeEmbedding(blob); len(vec) > 0 {
				out[uint64(id)] = vec
			}
		}
		return rows.Err()
	}

	if ids == nil {
		rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM records WHERE embedding IS NOT NULL`)
		if err != nil {
			return nil, fmt.Errorf("failed to query embeddings: %w", err)
		}
		if err := collect(rows); err != nil {
			return nil, err
		}
		return out, nil
	}

	for start := 0; start < len(ids); start += inBatch {
		end := min(start+inBatch, len(ids))
		placeholders, args := inClause(ids[start:end])
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, embedding FROM records WHERE embedding IS NOT NULL AND id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query embeddings: %w", err)
		}
		if err := collect(rows); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Stats summarises the indexed corpus.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	st := &Stats{ByType: make(map[string]int)}
	var bytes sql.NullInt64
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(size), MAX(indexed_at) FROM files`).Scan(&st.Files, &bytes, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to read file stats: %w", err)
	}
	st.Bytes = bytes.Int64
	if last.Valid {
		st.LastIndexed = time.Unix(0, last.Int64)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&st.Records); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM files GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to group files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		st.ByType[typ] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.path != "" {
		for _, p := range []string{s.path, s.path + "-wal"} {
			if fi, err := os.Stat(p); err == nil {
				st.DBSize += fi.Size()
			}
		}
	}
	return st, nil
}

// GetState returns the value stored under key, or "" if unset.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrClosed
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return value, nil
}

// SetState upserts a state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write state %s: %w", key, err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database. Closing twice is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec       Record
		id        int64
		modTime   int64
		indexedAt int64
		attrs     string
	)
	err := row.Scan(&id, &rec.Path, &rec.Ordinal, &rec.Section, &rec.Snippet,
		&rec.ContentHash, &modTime, &rec.Size, &rec.Type, &attrs, &indexedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	rec.ID = uint64(id)
	rec.ModTime = time.Unix(0, modTime)
	rec.IndexedAt = time.Unix(0, indexedAt)
	rec.Attributes = decodeAttributes(attrs)
	return &rec, nil
}

func scanFile(row rowScanner) (*FileRecord, error) {
	var (
		f         FileRecord
		modTime   int64
		indexedAt int64
		attrs     string
	)
	err := row.Scan(&f.Path, &f.Size, &modTime, &f.ContentHash, &f.Type, &f.MIME, &attrs, &f.ChunkCount, &indexedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan file: %w", err)
	}
	f.ModTime = time.Unix(0, modTime)
	f.IndexedAt = time.Unix(0, indexedAt)
	f.Attributes = decodeAttributes(attrs)
	return &f, nil
}

func scanIDs(rows *sql.Rows) ([]uint64, error) {
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

func inClause(ids []uint64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

func encodeAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes: %w", err)
	}
	return string(data), nil
}

func decodeAttributes(s string) map[string]string {
	attrs := map[string]string{}
	if s == "" || s == "{}" {
		return attrs
	}
	_ = json.Unmarshal([]byte(s), &attrs)
	return attrs
}

// encodeEmbedding packs a vector as little-endian float32s.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func truncateSnippet(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
