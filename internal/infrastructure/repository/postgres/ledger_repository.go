package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

const uniqueViolation = "23505"

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/auditor startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101401)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	idx BIGINT PRIMARY KEY,
	hash TEXT NOT NULL UNIQUE,
	previous_hash TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
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
WHERE hash = $1
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
VALUES ($1,$2,$3,$4,$5)
`, entry.Index, entry.Hash, entry.PreviousHash, metadata, entry.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
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
LIMIT $1 OFFSET $2
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
	var metadataRaw []byte
	if err := row.Scan(&entry.Index, &entry.Hash, &entry.PreviousHash, &metadataRaw, &entry.Timestamp); err != nil {
		return nil, err
	}
	entry.Metadata = map[string]string{}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	entry.Timestamp = entry.Timestamp.UTC()
	return &entry, nil
}
