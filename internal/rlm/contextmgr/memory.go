package contextmgr

import (
	"sort"

	"github.com/google/uuid"
)

// EntryType categorizes a memory entry.
type EntryType string

const (
	// TypeFileAnalysis records a finding about a specific file or module.
	TypeFileAnalysis EntryType = "file_analysis"

	// TypePattern records an architectural or design pattern.
	TypePattern EntryType = "pattern"

	// TypeDependency records a dependency or import relationship.
	TypeDependency EntryType = "dependency"

	// TypeIssue records a bug, error, or vulnerability.
	TypeIssue EntryType = "issue"

	// TypeSummary records a general finding.
	TypeSummary EntryType = "summary"
)

// MemoryEntry is a typed, scored finding extracted from execution
// output. Entries are immutable after creation; the bank only prunes.
type MemoryEntry struct {
	// ID uniquely identifies the entry.
	ID string

	// Type categorizes the finding.
	Type EntryType

	// Content is the finding text.
	Content string

	// Source is the file path the finding came from, if known.
	Source string

	// Importance scores the finding from 1 (trivia) to 10 (critical).
	Importance int

	// Turn is the turn number the finding was extracted on.
	Turn int
}

// Bank holds extracted findings up to a fixed capacity. Once the cap
// is exceeded the lowest-importance entries are discarded first.
type Bank struct {
	entries  []MemoryEntry
	capacity int
}

// NewBank creates a memory bank with the given capacity.
func NewBank(capacity int) *Bank {
	if capacity <= 0 {
		capacity = 50
	}
	return &Bank{capacity: capacity}
}

// Add inserts an entry, deduplicating against existing entries with
// the same content, or the same source and type. Returns false if the
// entry was a duplicate.
func (b *Bank) Add(entry MemoryEntry) bool {
	for _, existing := range b.entries {
		if existing.Content == entry.Content {
			return false
		}
		if entry.Source != "" && existing.Source == entry.Source && existing.Type == entry.Type {
			return false
		}
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	b.entries = append(b.entries, entry)
	b.prune()
	return true
}

// prune discards lowest-importance entries until size fits capacity.
func (b *Bank) prune() {
	if len(b.entries) <= b.capacity {
		return
	}
	sort.SliceStable(b.entries, func(i, j int) bool {
		return b.entries[i].Importance > b.entries[j].Importance
	})
	b.entries = b.entries[:b.capacity]
}

// Len returns the number of entries.
func (b *Bank) Len() int { return len(b.entries) }

// Entries returns a copy of all entries.
func (b *Bank) Entries() []MemoryEntry {
	out := make([]MemoryEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Top returns the n highest-importance entries.
func (b *Bank) Top(n int) []MemoryEntry {
	entries := b.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Importance > entries[j].Importance
	})
	if n > len(entries) {
		n = len(entries)
	}
	return entries[:n]
}
