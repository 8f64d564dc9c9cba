package cache

import (
	"testing"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetStats(t *testing.T) {
	c := NewCache(10, time.Minute)

	_, found := c.Get(CaseKey("A1"))
	assert.False(t, found)

	c.Set(CaseKey("A1"), &database.Case{CaseID: "A1"})
	got, found := c.Get(CaseKey("A1"))
	require.True(t, found)
	assert.Equal(t, "A1", got.CaseID)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestEvictsWhenFull(t *testing.T) {
	c := NewCache(2, time.Minute)

	c.Set(CaseKey("A"), &database.Case{CaseID: "A"})
	time.Sleep(2 * time.Millisecond)
	c.Set(CaseKey("B"), &database.Case{CaseID: "B"})
	time.Sleep(2 * time.Millisecond)
	c.Set(CaseKey("C"), &database.Case{CaseID: "C"})

	assert.Equal(t, 2, c.Stats().Size)
	_, found := c.Get(CaseKey("A"))
	assert.False(t, found)
	_, found = c.Get(CaseKey("C"))
	assert.True(t, found)
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c := NewCache(2, time.Minute)
	c.Set(CaseKey("A"), &database.Case{CaseID: "A"})
	c.Set(CaseKey("B"), &database.Case{CaseID: "B"})
	c.Set(CaseKey("B"), &database.Case{CaseID: "B", CaseStatus: "open"})

	assert.Equal(t, 2, c.Stats().Size)
	_, found := c.Get(CaseKey("A"))
	assert.True(t, found)
}

func TestDeleteAndClear(t *testing.T) {
	c := NewCache(10, time.Minute)
	c.Set(CaseKey("A"), &database.Case{CaseID: "A"})
	c.Set(CaseKey("B"), &database.Case{CaseID: "B"})

	c.Delete(CaseKey("A"))
	_, found := c.Get(CaseKey("A"))
	assert.False(t, found)

	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)
	assert.Equal(t, int64(0), c.Stats().Misses)
}
