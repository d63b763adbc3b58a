package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
	"github.com/kirillkom/heritage-ocr/internal/core/ports"
)

const (
	defaultLedgerPage = 50
	maxLedgerPage     = 500
	integrityPage     = 200
)

type LedgerUseCase struct {
	repo      ports.LedgerRepository
	publisher ports.EventPublisher
	metrics   ports.PipelineMetrics
	logger    *slog.Logger
	now       func() time.Time

	// mu serializes appends so index and previous hash are read and
	// written as one step within this process.
	mu sync.Mutex
}

func NewLedgerUseCase(
	repo ports.LedgerRepository,
	publisher ports.EventPublisher,
	metrics ports.PipelineMetrics,
	logger *slog.Logger,
) *LedgerUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerUseCase{
		repo:      repo,
		publisher: publisher,
		metrics:   metricsOrNoop(metrics),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HashRecord returns the hex SHA-256 of the record's canonical JSON: keys
// sorted at every level, no insignificant whitespace, no HTML escaping and
// every non-ASCII character written as a lowercase \uXXXX escape.
func HashRecord(record domain.StructuredRecord) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(record)); err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "ledger.hash", err)
	}
	sum := sha256.Sum256(escapeNonASCII(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))))
	return hex.EncodeToString(sum[:]), nil
}

// escapeNonASCII rewrites raw UTF-8 in encoded JSON as \uXXXX escapes,
// using surrogate pairs above the Basic Multilingual Plane. Non-ASCII bytes
// only occur inside strings, so the output stays valid JSON.
func escapeNonASCII(data []byte) []byte {
	i := bytes.IndexFunc(data, func(r rune) bool { return r >= utf8.RuneSelf })
	if i < 0 {
		return data
	}
	out := make([]byte, 0, len(data)+len(data)/2)
	out = append(out, data[:i]...)
	for _, r := range string(data[i:]) {
		if r < utf8.RuneSelf {
			out = append(out, byte(r))
			continue
		}
		if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			out = appendEscape(out, r1)
			out = appendEscape(out, r2)
			continue
		}
		out = appendEscape(out, r)
	}
	return out
}

func appendEscape(out []byte, r rune) []byte {
	const hexDigits = "0123456789abcdef"
	return append(out, '\\', 'u',
		hexDigits[r>>12&0xf], hexDigits[r>>8&0xf], hexDigits[r>>4&0xf], hexDigits[r&0xf])
}

// Register appends the record's hash to the chain. A record that is already
// registered returns its existing entry.
func (uc *LedgerUseCase) Register(
	ctx context.Context,
	record domain.StructuredRecord,
	metadata map[string]string,
) (*domain.LedgerEntry, error) {
	const op = "ledger.register"
	if len(record) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("record is empty"))
	}
	hash, err := HashRecord(record)
	if err != nil {
		return nil, err
	}

	entry, created, err := uc.appendOnce(ctx, hash, metadata)
	if err != nil {
		return nil, err
	}
	uc.metrics.IncLedgerAppend(created)
	if !created {
		return entry, nil
	}

	if uc.publisher != nil {
		event := domain.LedgerAppendedEvent{Index: entry.Index, Hash: entry.Hash}
		if err := uc.publisher.PublishLedgerAppended(ctx, event); err != nil {
			uc.logger.Warn("ledger_event_publish_failed", "index", entry.Index, "error", err)
		}
	}
	uc.logger.Info("ledger_entry_appended", "index", entry.Index, "hash", entry.Hash)
	return entry, nil
}

// appendRetries bounds how often an append is retried after another writer
// took the next index.
const appendRetries = 1

// appendOnce stores hash as the next entry unless it is already registered.
// created is false when an existing entry is returned.
func (uc *LedgerUseCase) appendOnce(
	ctx context.Context,
	hash string,
	metadata map[string]string,
) (*domain.LedgerEntry, bool, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	for attempt := 0; ; attempt++ {
		existing, err := uc.findByHash(ctx, hash)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}

		last, err := uc.repo.Last(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("load last ledger entry: %w", err)
		}
		entry := &domain.LedgerEntry{
			Index:        1,
			Hash:         hash,
			PreviousHash: domain.GenesisHash,
			Metadata:     cloneMetadata(metadata),
			Timestamp:    uc.now(),
		}
		if last != nil {
			entry.Index = last.Index + 1
			entry.PreviousHash = last.Hash
		}

		err = uc.repo.Append(ctx, entry)
		switch {
		case err == nil:
			return entry, true, nil
		case !domain.IsKind(err, domain.ErrConflict):
			return nil, false, fmt.Errorf("append ledger entry: %w", err)
		case attempt >= appendRetries:
			return nil, false, err
		}
		// Another process appended first; its entry may be this record.
		uc.logger.Warn("ledger_append_conflict", "index", entry.Index, "attempt", attempt+1)
	}
}

func (uc *LedgerUseCase) Verify(ctx context.Context, record domain.StructuredRecord) (*domain.LedgerVerification, error) {
	if len(record) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ledger.verify", fmt.Errorf("record is empty"))
	}
	hash, err := HashRecord(record)
	if err != nil {
		return nil, err
	}
	entry, err := uc.findByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return &domain.LedgerVerification{Verified: entry != nil, Hash: hash, Entry: entry}, nil
}

func (uc *LedgerUseCase) List(ctx context.Context, limit, offset int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultLedgerPage
	}
	if limit > maxLedgerPage {
		limit = maxLedgerPage
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := uc.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

// CheckIntegrity walks the chain from the first entry and reports the first
// entry whose index or previous hash does not follow its predecessor.
func (uc *LedgerUseCase) CheckIntegrity(ctx context.Context) (*domain.LedgerIntegrity, error) {
	result := &domain.LedgerIntegrity{Valid: true}
	expectedIndex := int64(1)
	previous := domain.GenesisHash

	for offset := 0; ; offset += integrityPage {
		page, err := uc.repo.List(ctx, integrityPage, offset)
		if err != nil {
			return nil, fmt.Errorf("list ledger entries: %w", err)
		}
		for _, entry := range page {
			switch {
			case entry.Index != expectedIndex:
				result.Valid = false
				result.BrokenIndex = entry.Index
				result.Reason = fmt.Sprintf("expected index %d, found %d", expectedIndex, entry.Index)
			case entry.PreviousHash != previous:
				result.Valid = false
				result.BrokenIndex = entry.Index
				result.Reason = fmt.Sprintf("previous hash mismatch at index %d", entry.Index)
			}
			if !result.Valid {
				return result, nil
			}
			result.Entries++
			expectedIndex++
			previous = entry.Hash
		}
		if len(page) < integrityPage {
			return result, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (uc *LedgerUseCase) findByHash(ctx context.Context, hash string) (*domain.LedgerEntry, error) {
	entry, err := uc.repo.FindByHash(ctx, hash)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find ledger entry: %w", err)
	}
	return entry, nil
}

func cloneMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
