package domain

import "time"

// GenesisHash is the previous hash recorded by the first ledger entry.
const GenesisHash = "0"

type LedgerEntry struct {
	Index        int64             `json:"index"`
	Hash         string            `json:"hash"`
	PreviousHash string            `json:"previous_hash"`
	Metadata     map[string]string `json:"metadata"`
	Timestamp    time.Time         `json:"timestamp"`
}

type LedgerVerification struct {
	Verified bool         `json:"verified"`
	Hash     string       `json:"hash"`
	Entry    *LedgerEntry `json:"entry,omitempty"`
}

type LedgerIntegrity struct {
	Valid       bool   `json:"valid"`
	Entries     int    `json:"entries"`
	BrokenIndex int64  `json:"broken_index,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// LedgerAppendedEvent is published after a new entry is stored.
type LedgerAppendedEvent struct {
	Index int64  `json:"index"`
	Hash  string `json:"hash"`
}
