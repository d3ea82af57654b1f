package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/websift/websift/internal/harvest"
)

func openTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := openTestStore(t, time.Hour)
	ctx := context.Background()

	doc := harvest.Document{
		URL:         "https://example.com/page",
		Title:       "Example",
		Content:     "cached body text",
		OriginQuery: "example query",
	}
	require.NoError(t, s.Put(ctx, doc))

	got, ok, err := s.Get(ctx, doc.URL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, doc.Title, got.Title)
	assert.Equal(t, doc.Content, got.Content)
	assert.Equal(t, doc.OriginQuery, got.OriginQuery)
}

func TestStore_MissReturnsNotFound(t *testing.T) {
	s := openTestStore(t, time.Hour)
	_, ok, err := s.Get(context.Background(), "https://example.com/absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_PutUpdatesExisting(t *testing.T) {
	s := openTestStore(t, time.Hour)
	ctx := context.Background()

	doc := harvest.Document{URL: "https://example.com/p", Content: "v1"}
	require.NoError(t, s.Put(ctx, doc))
	doc.Content = "v2"
	require.NoError(t, s.Put(ctx, doc))

	got, ok, err := s.Get(ctx, doc.URL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", got.Content)
}

func TestStore_ExpiredEntryIsMiss(t *testing.T) {
	s := openTestStore(t, time.Nanosecond)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, harvest.Document{URL: "u", Content: "c"}))
	time.Sleep(10 * time.Millisecond)

	_, ok, err := s.Get(ctx, "u")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_PurgeRemovesExpired(t *testing.T) {
	s := openTestStore(t, time.Nanosecond)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, harvest.Document{URL: "a", Content: "x"}))
	require.NoError(t, s.Put(ctx, harvest.Document{URL: "b", Content: "y"}))
	time.Sleep(10 * time.Millisecond)

	// Expired entries must actually be deleted, not just masked.
	n, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestStore_RecordRun(t *testing.T) {
	s := openTestStore(t, time.Hour)

	id, err := s.RecordRun(context.Background(), "some query", 7, 5, 1200*time.Millisecond)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	id2, err := s.RecordRun(context.Background(), "another", 3, 3, time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}
