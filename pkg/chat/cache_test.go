package chat

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxPerSession int) *Cache {
	t.Helper()
	return NewCache(CacheOptions{
		MaxMessagesPerSession: maxPerSession,
		DiskPath:              t.TempDir(),
		FlushEnabled:          true,
	})
}

func TestCacheEvictsOldestBeyondCapacity(t *testing.T) {
	cache := newTestCache(t, 3)

	for i := 0; i < 4; i++ {
		cache.Append(Message{SessionID: "s1", Role: RoleUser, Text: fmt.Sprintf("m%d", i)}, false)
	}

	recent := cache.ListRecent("s1", 10)
	require.Len(t, recent, 3)
	require.Equal(t, "m1", recent[0].Text)
	require.Equal(t, "m2", recent[1].Text)
	require.Equal(t, "m3", recent[2].Text)
}

func TestCacheListRecentLimit(t *testing.T) {
	cache := newTestCache(t, 10)
	for i := 0; i < 5; i++ {
		cache.Append(Message{SessionID: "s1", Text: fmt.Sprintf("m%d", i)}, false)
	}

	recent := cache.ListRecent("s1", 2)
	require.Len(t, recent, 2)
	require.Equal(t, "m3", recent[0].Text)
	require.Equal(t, "m4", recent[1].Text)
}

func TestCacheListRecentUnknownSession(t *testing.T) {
	cache := newTestCache(t, 10)
	require.Empty(t, cache.ListRecent("nope", 10))
}

func TestCachePopFlushBatchFIFO(t *testing.T) {
	cache := newTestCache(t, 10)
	cache.Append(Message{SessionID: "s1", Text: "m1"}, false)
	cache.Append(Message{SessionID: "s2", Text: "m2"}, false)
	cache.Append(Message{SessionID: "s1", Text: "m3"}, false)

	batch := cache.PopFlushBatch(2)
	require.Len(t, batch, 2)
	require.Equal(t, "m1", batch[0].Text)
	require.Equal(t, "m2", batch[1].Text)

	batch = cache.PopFlushBatch(2)
	require.Len(t, batch, 1)
	require.Equal(t, "m3", batch[0].Text)

	require.Empty(t, cache.PopFlushBatch(2))
}

func TestCacheFlushQueueUnboundedDespiteEviction(t *testing.T) {
	cache := newTestCache(t, 2)
	for i := 0; i < 5; i++ {
		cache.Append(Message{SessionID: "s1", Text: fmt.Sprintf("m%d", i)}, false)
	}

	// The recall buffer is bounded, the pending queue is not.
	require.Len(t, cache.ListRecent("s1", 10), 2)
	require.Len(t, cache.PopFlushBatch(10), 5)
}

func TestCacheFlushDisabled(t *testing.T) {
	cache := NewCache(CacheOptions{
		MaxMessagesPerSession: 10,
		DiskPath:              t.TempDir(),
		FlushEnabled:          false,
	})
	cache.Append(Message{SessionID: "s1", Text: "m1"}, false)

	require.Empty(t, cache.PopFlushBatch(10))
	require.Len(t, cache.ListRecent("s1", 10), 1)
}

func TestCacheAppendAssignsDefaults(t *testing.T) {
	cache := newTestCache(t, 10)
	cache.Append(Message{Text: "hello"}, false)

	recent := cache.ListRecent(DefaultSessionID, 10)
	require.Len(t, recent, 1)
	require.False(t, recent[0].CreatedAt.IsZero())
}

func TestCacheDiskLogAppend(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(CacheOptions{
		MaxMessagesPerSession: 10,
		DiskPath:              dir,
		FlushEnabled:          true,
	})
	cache.Append(Message{SessionID: "s1", Role: RoleUser, Text: "hello"}, true)

	f, err := os.Open(filepath.Join(dir, "s1.jsonl"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	lines := 0
	var stored Message
	for scanner.Scan() {
		lines++
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &stored))
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, 1, lines)
	require.Equal(t, "hello", stored.Text)
	require.Equal(t, "s1", stored.SessionID)
}

func TestCacheDiskFailureDoesNotPropagate(t *testing.T) {
	cache := NewCache(CacheOptions{
		MaxMessagesPerSession: 10,
		DiskPath:              filepath.Join(t.TempDir(), "not-a-dir", "\x00bad"),
		FlushEnabled:          true,
	})

	// Must not panic or fail the append; the message stays recallable.
	cache.Append(Message{SessionID: "s1", Text: "hello"}, true)
	require.Len(t, cache.ListRecent("s1", 10), 1)
}

func TestCacheDescribe(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(CacheOptions{
		MaxMessagesPerSession: 5,
		DiskPath:              dir,
		FlushEnabled:          true,
	})
	cache.Append(Message{SessionID: "s1", Text: "m1"}, false)

	info := cache.Describe()
	assert.Equal(t, 5, info.MaxMessagesPerSession)
	assert.Equal(t, dir, info.DiskPath)
	assert.True(t, info.FlushEnabled)
	assert.Equal(t, 1, info.Sessions)
	assert.Equal(t, 1, info.PendingFlush)
}

func TestCacheDefaults(t *testing.T) {
	cache := NewCache(CacheOptions{})
	info := cache.Describe()
	assert.Equal(t, 75, info.MaxMessagesPerSession)
	assert.NotEmpty(t, info.DiskPath)
	assert.False(t, info.FlushEnabled)
}
