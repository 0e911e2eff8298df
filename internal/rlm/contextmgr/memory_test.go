package contextmgr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBank_AddAndDedup(t *testing.T) {
	b := NewBank(10)

	ok := b.Add(MemoryEntry{Type: TypeIssue, Content: "sql injection in query builder", Source: "db.go", Importance: 8})
	assert.True(t, ok)
	assert.Equal(t, 1, b.Len())

	// Same content is a duplicate.
	ok = b.Add(MemoryEntry{Type: TypeSummary, Content: "sql injection in query builder", Importance: 3})
	assert.False(t, ok)

	// Same source and type is a duplicate.
	ok = b.Add(MemoryEntry{Type: TypeIssue, Content: "different wording, same finding", Source: "db.go", Importance: 7})
	assert.False(t, ok)

	// Same source, different type is not.
	ok = b.Add(MemoryEntry{Type: TypeDependency, Content: "db.go imports driver", Source: "db.go", Importance: 5})
	assert.True(t, ok)

	assert.Equal(t, 2, b.Len())
}

func TestBank_AssignsID(t *testing.T) {
	b := NewBank(10)
	require.True(t, b.Add(MemoryEntry{Type: TypeSummary, Content: "a finding", Importance: 5}))
	assert.NotEmpty(t, b.Entries()[0].ID)
}

func TestBank_PruneDropsLowestImportance(t *testing.T) {
	b := NewBank(3)

	for i := 1; i <= 5; i++ {
		b.Add(MemoryEntry{
			Type:       TypeSummary,
			Content:    fmt.Sprintf("finding %d", i),
			Importance: i,
		})
	}

	require.Equal(t, 3, b.Len())
	for _, e := range b.Entries() {
		assert.GreaterOrEqual(t, e.Importance, 3, "low-importance entry survived pruning")
	}
}

func TestBank_Top(t *testing.T) {
	b := NewBank(10)
	b.Add(MemoryEntry{Type: TypeSummary, Content: "minor", Importance: 2})
	b.Add(MemoryEntry{Type: TypeIssue, Content: "severe", Importance: 9})
	b.Add(MemoryEntry{Type: TypePattern, Content: "middling", Importance: 5})

	top := b.Top(2)
	require.Len(t, top, 2)
	assert.Equal(t, "severe", top[0].Content)
	assert.Equal(t, "middling", top[1].Content)

	assert.Len(t, b.Top(100), 3)
}

// TestProperty_BankNeverExceedsCapacity verifies the capacity invariant
// under arbitrary insertion sequences.
func TestProperty_BankNeverExceedsCapacity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 20).Draw(t, "capacity")
		b := NewBank(capacity)

		n := rapid.IntRange(0, 100).Draw(t, "inserts")
		for i := 0; i < n; i++ {
			b.Add(MemoryEntry{
				Type:       TypeSummary,
				Content:    fmt.Sprintf("finding %d %d", i, rapid.IntRange(0, 1000).Draw(t, "salt")),
				Importance: rapid.IntRange(1, 10).Draw(t, "importance"),
			})
			if b.Len() > capacity {
				t.Fatalf("bank size %d exceeds capacity %d", b.Len(), capacity)
			}
		}
	})
}
