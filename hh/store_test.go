package hh

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentStoreAcquireReusesLog(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{HintsDir: dir, ShardID: "0", HintSegmentSizeMB: 32}
	store := newSegmentStore(cfg)

	l1, err := store.acquire("ep1")
	require.NoError(t, err)
	l2, err := store.acquire("ep1")
	require.NoError(t, err)

	assert.Same(t, l1, l2)

	require.NoError(t, store.release("ep1"))
	require.NoError(t, store.release("ep1"))
}

// TestSegmentStoreConcurrentAcquireSharesOneSurvivor drives many
// concurrent first-time acquires for the same never-before-seen
// endpoint. Construction may race — more than one goroutine can open a
// log before either registers it — but exactly one survives as the
// endpoint's tracked log, every caller receives that same survivor,
// and the refcount it accumulates exactly matches the number of
// acquires, so it takes exactly that many releases to close it.
func TestSegmentStoreConcurrentAcquireSharesOneSurvivor(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{HintsDir: dir, ShardID: "0", HintSegmentSizeMB: 32}
	store := newSegmentStore(cfg)

	const n = 20
	var wg sync.WaitGroup
	logs := make([]SegmentLog, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := store.acquire("ep1")
			require.NoError(t, err)
			logs[i] = l
		}(i)
	}
	wg.Wait()

	for _, l := range logs {
		assert.Same(t, logs[0], l)
	}

	store.mu.Lock()
	rc := store.logs["ep1"]
	store.mu.Unlock()
	require.NotNil(t, rc)
	assert.Equal(t, n, rc.refs)

	for i := 0; i < n-1; i++ {
		require.NoError(t, store.release("ep1"))
		store.mu.Lock()
		_, stillTracked := store.logs["ep1"]
		store.mu.Unlock()
		assert.True(t, stillTracked, "log closed before last release")
	}
	require.NoError(t, store.release("ep1"))
	store.mu.Lock()
	_, stillTracked := store.logs["ep1"]
	store.mu.Unlock()
	assert.False(t, stillTracked)
}

func TestSegmentStoreReleaseClosesOnLastRef(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{HintsDir: dir, ShardID: "0", HintSegmentSizeMB: 32}
	store := newSegmentStore(cfg)

	_, err := store.acquire("ep1")
	require.NoError(t, err)
	_, err = store.acquire("ep1")
	require.NoError(t, err)

	require.NoError(t, store.release("ep1"))
	store.mu.Lock()
	_, stillTracked := store.logs["ep1"]
	store.mu.Unlock()
	assert.True(t, stillTracked)

	require.NoError(t, store.release("ep1"))
	store.mu.Lock()
	_, stillTracked = store.logs["ep1"]
	store.mu.Unlock()
	assert.False(t, stillTracked)
}
