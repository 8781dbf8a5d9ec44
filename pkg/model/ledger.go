package model

import "time"

// LedgerResult records how a bypass attempt ended.
type LedgerResult string

const (
	LedgerConsumed       LedgerResult = "consumed"
	LedgerReplayedDenied LedgerResult = "replayed_denied"
)

// HashValue is a SHA-256 hash stored as lowercase hex.
type HashValue string

// LedgerRecord is one entry in the bypass ledger. Records are append-only
// and chained: RecordHash covers the record with RecordHash blanked, and
// PrevHash is the previous record's RecordHash.
type LedgerRecord struct {
	Timestamp   time.Time    `json:"ts"`
	User        string       `json:"user"`
	Scope       BypassScope  `json:"scope"`
	Label       string       `json:"label"`
	HashPrefix  string       `json:"hash_prefix"`
	TokenSHA256 string       `json:"token_sha256"`
	Reusable    bool         `json:"reusable"`
	Reason      string       `json:"reason,omitempty"`
	Files       []string     `json:"files,omitempty"`
	Result      LedgerResult `json:"result"`
	PrevHash    HashValue    `json:"prev_hash"`
	RecordHash  HashValue    `json:"record_hash"`
}
