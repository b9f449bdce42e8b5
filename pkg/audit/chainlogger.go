// Package audit provides a tamper-evident journal. Each entry's hash
// covers the previous entry's hash, so any modification breaks the
// chain from that point on.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one journal record.
type Entry struct {
	Seq          uint64    `json:"seq"`
	Timestamp    time.Time `json:"timestamp"`
	PreviousHash string    `json:"previous_hash"`
	Payload      string    `json:"payload"`
	Hash         string    `json:"hash"`
}

// Journal is an append-only hash-chained log. Safe for concurrent use.
type Journal struct {
	mu       sync.Mutex
	entries  []Entry
	prevHash string
	seq      uint64
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{prevHash: genesisHash}
}

// Append records payload and returns the new entry.
func (j *Journal) Append(payload string) Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	e := Entry{
		Seq:          j.seq,
		Timestamp:    time.Now().UTC(),
		PreviousHash: j.prevHash,
		Payload:      payload,
	}
	e.Hash = hashEntry(e)

	j.entries = append(j.entries, e)
	j.prevHash = e.Hash
	j.seq++
	return e
}

// Entries returns a copy of the journal.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Verify checks the chain integrity of a sequence of entries.
func Verify(entries []Entry) bool {
	prev := genesisHash
	for i, e := range entries {
		if e.Seq != uint64(i) || e.PreviousHash != prev || hashEntry(e) != e.Hash {
			return false
		}
		prev = e.Hash
	}
	return true
}

func hashEntry(e Entry) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%s",
		e.Seq, e.PreviousHash, e.Timestamp.Format(time.RFC3339Nano), e.Payload)))
	return hex.EncodeToString(h[:])
}
