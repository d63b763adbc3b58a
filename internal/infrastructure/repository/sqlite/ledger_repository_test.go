package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

func newTestRepo(t *testing.T) *LedgerRepository {
	t.Helper()

	db, err := OpenDB(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	repo := NewLedgerRepository(db)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	return repo
}

func entryAt(index int64, hash, prev string) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		Index:        index,
		Hash:         hash,
		PreviousHash: prev,
		Metadata:     map[string]string{"source": hash + ".png"},
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC),
	}
}

func TestLedgerRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	last, err := repo.Last(ctx)
	if err != nil || last != nil {
		t.Fatalf("expected empty ledger, got %+v, %v", last, err)
	}

	if err := repo.Append(ctx, entryAt(0, "h0", domain.GenesisHash)); err != nil {
		t.Fatalf("Append(0) error = %v", err)
	}
	if err := repo.Append(ctx, entryAt(1, "h1", "h0")); err != nil {
		t.Fatalf("Append(1) error = %v", err)
	}

	last, err = repo.Last(ctx)
	if err != nil {
		t.Fatalf("Last() error = %v", err)
	}
	if last.Index != 1 || last.Hash != "h1" || last.PreviousHash != "h0" {
		t.Fatalf("unexpected last entry %+v", last)
	}

	found, err := repo.FindByHash(ctx, "h0")
	if err != nil {
		t.Fatalf("FindByHash() error = %v", err)
	}
	if found.Metadata["source"] != "h0.png" {
		t.Fatalf("unexpected metadata %+v", found.Metadata)
	}
	if !found.Timestamp.Equal(entryAt(0, "", "").Timestamp) {
		t.Fatalf("timestamp not preserved: %v", found.Timestamp)
	}

	entries, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Hash != "h0" || entries[1].Hash != "h1" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	page, err := repo.List(ctx, 1, 1)
	if err != nil {
		t.Fatalf("List(page) error = %v", err)
	}
	if len(page) != 1 || page[0].Index != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestLedgerRepositoryConflicts(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if err := repo.Append(ctx, entryAt(0, "h0", domain.GenesisHash)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := repo.Append(ctx, entryAt(1, "h0", "h0")); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate hash: expected conflict, got %v", err)
	}
	if err := repo.Append(ctx, entryAt(0, "other", domain.GenesisHash)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate index: expected conflict, got %v", err)
	}
}

func TestFindByHashMissing(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.FindByHash(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEnsurePragmas(t *testing.T) {
	got := ensurePragmas("/tmp/ledger.db")
	want := "file:/tmp/ledger.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if got != want {
		t.Fatalf("ensurePragmas() = %q, want %q", got, want)
	}
	if got := ensurePragmas("file::memory:"); got != "file::memory:" {
		t.Fatalf("memory dsn changed: %q", got)
	}
}
