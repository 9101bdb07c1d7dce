package store

import (
	"context"

	"github.com/maypok86/otter/v2"
)

// MemoIndex is an in-process memoization of cache index lookups.
// Cache records are immutable and never deleted, so a positive lookup
// result can be held in memory indefinitely; only capacity bounds it.
// Misses are never memoized — a miss must fall through to the store so
// freshly populated derivatives become visible.
type MemoIndex struct {
	index *Store
	memo  *otter.Cache[string, string]
}

// NewMemoIndex wraps the store's cache lookups with an in-memory layer
// holding up to maxSize served URLs.
func NewMemoIndex(index *Store, maxSize int) *MemoIndex {
	memo := otter.Must(&otter.Options[string, string]{
		MaximumSize: maxSize,
	})

	return &MemoIndex{index: index, memo: memo}
}

// LookupCache behaves like Store.LookupCache with hot keys served from
// memory.
func (m *MemoIndex) LookupCache(ctx context.Context, key CacheKey) (string, bool, error) {
	memoKey := key.String()

	if entry, ok := m.memo.GetEntry(memoKey); ok {
		return entry.Value, true, nil
	}

	url, found, err := m.index.LookupCache(ctx, key)
	if err != nil || !found {
		return "", false, err
	}

	m.memo.Set(memoKey, url)
	return url, true, nil
}
