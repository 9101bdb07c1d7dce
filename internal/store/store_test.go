package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camber-images/camber/internal/imagereq"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func testKey() CacheKey {
	return CacheKey{
		ID:     "photo",
		Width:  100,
		Height: 200,
		Fit:    imagereq.FitClip,
		MIME:   "image/jpeg",
	}
}

func TestCacheIndex_LookupMiss(t *testing.T) {
	s := testStore(t)

	_, found, err := s.LookupCache(context.Background(), testKey())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheIndex_InsertThenLookup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.InsertCache(ctx, testKey(), "https://cdn.example.com/photo_100x200.clip.jpg")
	require.NoError(t, err)

	url, found, err := s.LookupCache(ctx, testKey())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "https://cdn.example.com/photo_100x200.clip.jpg", url)
}

func TestCacheIndex_DuplicateInsertConflictsWithoutOverwrite(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertCache(ctx, testKey(), "https://cdn.example.com/first"))

	err := s.InsertCache(ctx, testKey(), "https://cdn.example.com/second")
	assert.ErrorIs(t, err, ErrConflict)

	// the original record remains authoritative
	url, found, err := s.LookupCache(ctx, testKey())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "https://cdn.example.com/first", url)
}

func TestCacheIndex_KeyDimensionsAreDistinct(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := testKey()
	require.NoError(t, s.InsertCache(ctx, base, "url-clip"))

	crop := base
	crop.Fit = imagereq.FitCrop
	require.NoError(t, s.InsertCache(ctx, crop, "url-crop"))

	png := base
	png.MIME = "image/png"
	require.NoError(t, s.InsertCache(ctx, png, "url-png"))

	url, _, err := s.LookupCache(ctx, crop)
	require.NoError(t, err)
	assert.Equal(t, "url-crop", url)
}

func TestCacheIndex_ConcurrentInsertsStoreExactlyOneRecord(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.InsertCache(ctx, testKey(), "url"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)

	_, found, err := s.LookupCache(ctx, testKey())
	require.NoError(t, err)
	assert.True(t, found)
}

func testAuthority(t *testing.T) *TokenAuthority {
	t.Helper()

	a := NewTokenAuthority(testStore(t), 15*time.Minute)
	a.cleanupDraw = func() bool { return false }
	return a
}

func TestToken_IssueConflictUntilCleanup(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()

	token, err := a.Issue(ctx, "img1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = a.Issue(ctx, "img1")
	assert.ErrorIs(t, err, ErrConflict)

	// a different resource id is unaffected
	_, err = a.Issue(ctx, "img2")
	assert.NoError(t, err)
}

func TestToken_ConsumeExactlyOnce(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()

	token, err := a.Issue(ctx, "img1")
	require.NoError(t, err)

	affected, err := a.Consume(ctx, token, "img1")
	require.NoError(t, err)
	assert.Equal(t, 1, affected)

	affected, err = a.Consume(ctx, token, "img1")
	require.NoError(t, err)
	assert.Equal(t, 0, affected)
}

func TestToken_ConsumeWrongResourceOrToken(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()

	token, err := a.Issue(ctx, "img1")
	require.NoError(t, err)

	affected, err := a.Consume(ctx, token, "other-image")
	require.NoError(t, err)
	assert.Equal(t, 0, affected)

	affected, err = a.Consume(ctx, "not-the-token", "img1")
	require.NoError(t, err)
	assert.Equal(t, 0, affected)

	// the real pair still works after the failed attempts
	affected, err = a.Consume(ctx, token, "img1")
	require.NoError(t, err)
	assert.Equal(t, 1, affected)
}

func TestToken_ConsumeAfterExpiry(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()

	issued := time.Now()
	a.now = func() time.Time { return issued }

	token, err := a.Issue(ctx, "img1")
	require.NoError(t, err)

	a.now = func() time.Time { return issued.Add(16 * time.Minute) }

	affected, err := a.Consume(ctx, token, "img1")
	require.NoError(t, err)
	assert.Equal(t, 0, affected)
}

func TestToken_CleanupRemovesOnlyUnusedExpired(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()

	issued := time.Now()
	a.now = func() time.Time { return issued }

	// consumed token: must survive cleanup even after expiry
	consumedToken, err := a.Issue(ctx, "consumed")
	require.NoError(t, err)
	affected, err := a.Consume(ctx, consumedToken, "consumed")
	require.NoError(t, err)
	require.Equal(t, 1, affected)

	// unused token that will expire
	_, err = a.Issue(ctx, "stale")
	require.NoError(t, err)

	// advance past expiry, then issue a fresh token that must survive
	a.now = func() time.Time { return issued.Add(16 * time.Minute) }
	freshToken, err := a.Issue(ctx, "fresh")
	require.NoError(t, err)

	removed, err := a.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// stale's resource id is free again
	_, err = a.Issue(ctx, "stale")
	assert.NoError(t, err)

	// consumed stays terminal, fresh stays consumable
	_, err = a.Issue(ctx, "consumed")
	assert.ErrorIs(t, err, ErrConflict)
	affected, err = a.Consume(ctx, freshToken, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, affected)
}

func TestToken_IssueTriggersSweepOnDraw(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()

	issued := time.Now()
	a.now = func() time.Time { return issued }

	_, err := a.Issue(ctx, "stale")
	require.NoError(t, err)

	a.now = func() time.Time { return issued.Add(16 * time.Minute) }
	a.cleanupDraw = func() bool { return true }

	_, err = a.Issue(ctx, "fresh")
	require.NoError(t, err)

	// the sweep fired during issue, so stale can be reissued
	_, err = a.Issue(ctx, "stale")
	assert.NoError(t, err)
}
