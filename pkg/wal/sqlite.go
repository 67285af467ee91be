package wal

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"

	"github.com/Sumatoshi-tech/filesplit/pkg/persist"
)

// cyclesSchema holds one row per committed cycle.
const cyclesSchema = `
CREATE TABLE IF NOT EXISTS cycles (
	id INTEGER PRIMARY KEY,
	checksum INTEGER NOT NULL,
	payload BLOB NOT NULL,
	committed_at INTEGER NOT NULL
);
`

// SQLiteStore keeps one row per committed cycle in a SQLite database. It
// carries the same payload encoding and checksum as FSStore; atomicity comes
// from the database transaction instead of a rename.
type SQLiteStore struct {
	db    *sql.DB
	codec persist.Codec
}

// NewSQLiteStore opens (or creates) a cycle database at the provided path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoPath
	}

	mkdirErr := os.MkdirAll(filepath.Dir(path), storeDirPerm)
	if mkdirErr != nil {
		return nil, fmt.Errorf("create store directory: %w", mkdirErr)
	}

	db, openErr := sql.Open("sqlite", path)
	if openErr != nil {
		return nil, fmt.Errorf("open cycle database: %w", openErr)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}

	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()

			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, schemaErr := db.Exec(cyclesSchema); schemaErr != nil {
		_ = db.Close()

		return nil, fmt.Errorf("initialize cycle schema: %w", schemaErr)
	}

	return &SQLiteStore{
		db:    db,
		codec: persist.NewLZ4Codec(),
	}, nil
}

// Append implements Store.Append with an upsert on the cycle id.
func (s *SQLiteStore) Append(ctx context.Context, batch Batch) error {
	if batch.Cycle <= 0 {
		return fmt.Errorf("%w: %d", ErrBadCycle, batch.Cycle)
	}

	var buf bytes.Buffer

	encodeErr := s.codec.Encode(&buf, batch)
	if encodeErr != nil {
		return fmt.Errorf("encode batch for cycle %d: %w", batch.Cycle, encodeErr)
	}

	payload := buf.Bytes()
	checksum := int64(xxh3.Hash(payload))

	_, execErr := s.db.ExecContext(ctx, `
INSERT INTO cycles(id, checksum, payload, committed_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	checksum=excluded.checksum,
	payload=excluded.payload,
	committed_at=excluded.committed_at
`, batch.Cycle, checksum, payload, time.Now().UnixNano())
	if execErr != nil {
		return fmt.Errorf("commit cycle %d: %w", batch.Cycle, execErr)
	}

	return nil
}

// ReadBack implements Store.ReadBack, verifying the row before decoding.
func (s *SQLiteStore) ReadBack(ctx context.Context, cycle int64) (*Batch, error) {
	var (
		checksum int64
		payload  []byte
	)

	queryErr := s.db.QueryRowContext(ctx,
		`SELECT checksum, payload FROM cycles WHERE id = ?`, cycle,
	).Scan(&checksum, &payload)

	if errors.Is(queryErr, sql.ErrNoRows) {
		return nil, fmt.Errorf("cycle %d: %w", cycle, ErrNoBatch)
	}

	if queryErr != nil {
		return nil, fmt.Errorf("query cycle %d: %w", cycle, queryErr)
	}

	if xxh3.Hash(payload) != uint64(checksum) {
		return nil, fmt.Errorf("%w: checksum mismatch for cycle %d", ErrCorrupt, cycle)
	}

	var batch Batch

	decodeErr := s.codec.Decode(bytes.NewReader(payload), &batch)
	if decodeErr != nil {
		return nil, fmt.Errorf("decode batch for cycle %d: %w", cycle, decodeErr)
	}

	return &batch, nil
}

// CommittedBoundary implements Store.CommittedBoundary via MAX over cycle ids.
func (s *SQLiteStore) CommittedBoundary(ctx context.Context) (int64, error) {
	var boundary int64

	queryErr := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM cycles`,
	).Scan(&boundary)
	if queryErr != nil {
		return 0, fmt.Errorf("query committed boundary: %w", queryErr)
	}

	return boundary, nil
}

// Close implements Store.Close.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}
