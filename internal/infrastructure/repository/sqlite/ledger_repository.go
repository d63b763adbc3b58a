// Package sqlite stores the record ledger in a single-node SQLite file using
// the pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

const timeLayout = time.RFC3339Nano

// OpenDB opens or creates the ledger database. A single connection keeps
// writers serialized inside the process.
func OpenDB(path string) (*sql.DB, error) {
	dsn := ensurePragmas(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func ensurePragmas(path string) string {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	lower := strings.ToLower(dsn)
	if strings.Contains(lower, ":memory:") {
		return dsn
	}
	if !strings.Contains(lower, "_pragma=busy_timeout") {
		dsn = addPragma(dsn, "busy_timeout(5000)")
	}
	if !strings.Contains(lower, "_pragma=journal_mode") {
		dsn = addPragma(dsn, "journal_mode(WAL)")
	}
	return dsn
}

func addPragma(dsn, pragma string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=" + pragma
}

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	idx INTEGER PRIMARY KEY,
	hash TEXT NOT NULL UNIQUE,
	previous_hash TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	return nil
}

func (r *LedgerRepository) Last(ctx context.Context) (*domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT idx, hash, previous_hash, metadata, created_at
FROM ledger_entries
ORDER BY idx DESC
LIMIT 1
`)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan last ledger entry: %w", err)
	}
	return entry, nil
}

func (r *LedgerRepository) FindByHash(ctx context.Context, hash string) (*domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT idx, hash, previous_hash, metadata, created_at
FROM ledger_entries
WHERE hash = ?
`, hash)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.WrapError(domain.ErrNotFound, "ledger.find_by_hash", fmt.Errorf("hash %s", hash))
	}
	if err != nil {
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	return entry, nil
}

func (r *LedgerRepository) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO ledger_entries (idx, hash, previous_hash, metadata, created_at)
VALUES (?, ?, ?, ?, ?)
`, entry.Index, entry.Hash, entry.PreviousHash, string(metadata), entry.Timestamp.UTC().Format(timeLayout))
	if err != nil {
		if isConstraintViolation(err) {
			return domain.WrapError(domain.ErrConflict, "ledger.append", err)
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (r *LedgerRepository) List(ctx context.Context, limit, offset int) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT idx, hash, previous_hash, metadata, created_at
FROM ledger_entries
ORDER BY idx ASC
LIMIT ? OFFSET ?
`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	var metadataRaw, createdRaw string
	if err := row.Scan(&entry.Index, &entry.Hash, &entry.PreviousHash, &metadataRaw, &createdRaw); err != nil {
		return nil, err
	}
	entry.Metadata = map[string]string{}
	if metadataRaw != "" {
		if err := json.Unmarshal([]byte(metadataRaw), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	created, err := time.Parse(timeLayout, createdRaw)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	entry.Timestamp = created.UTC()
	return &entry, nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
