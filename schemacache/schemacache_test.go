package schemacache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetMissIncrementsMisses(t *testing.T) {
	c := NewCache(WithMaxSize(4))
	_, ok := c.Get("tool.a")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestSetThenGetHits(t *testing.T) {
	c := NewCache(WithMaxSize(4))
	c.Set("tool.a", map[string]any{"type": "object"}, "v1")
	schema, ok := c.Get("tool.a")
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"type": "object"}, schema)
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestEvictsLeastRecentlyAccessed(t *testing.T) {
	c := NewCache(WithMaxSize(2))
	c.Set("a", "schema-a", "v1")
	c.Set("b", "schema-b", "v1")
	c.Get("a") // touch a so b becomes the LRU victim
	c.Set("c", "schema-c", "v1")

	_, aOK := c.Get("a")
	_, bOK := c.Get("b")
	_, cOK := c.Get("c")
	assert.True(t, aOK)
	assert.False(t, bOK)
	assert.True(t, cOK)
	assert.Equal(t, 2, c.Stats().Size)
}

func TestStatsHitRate(t *testing.T) {
	c := NewCache(WithMaxSize(4))
	c.Set("a", "schema-a", "v1")
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}

func TestTopToolsRanksByDescendingHitCount(t *testing.T) {
	c := NewCache(WithMaxSize(4))
	c.Set("a", "x", "v1")
	c.Set("b", "x", "v1")
	c.Set("c", "x", "v1")
	for i := 0; i < 3; i++ {
		c.Get("b")
	}
	c.Get("a")

	top := c.TopTools(2)
	assert.Len(t, top, 2)
	assert.Equal(t, "b", top[0].ToolID)
	assert.Equal(t, int64(3), top[0].HitCount)
	assert.Equal(t, "a", top[1].ToolID)
}

func TestIsStaleDetectsVersionChange(t *testing.T) {
	c := NewCache(WithMaxSize(4))
	c.Set("a", "schema-v1", "hash1")
	assert.False(t, c.IsStale("a", "hash1"))
	assert.True(t, c.IsStale("a", "hash2"))
}

func TestIsStaleUnknownToolIsNotStale(t *testing.T) {
	c := NewCache(WithMaxSize(4))
	assert.False(t, c.IsStale("unknown", "anything"))
}
