package segment

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndReplaySingleSegment(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, 1<<20)
	require.NoError(t, err)
	defer log.Close()

	var rps []uint64
	for i := 0; i < 5; i++ {
		rp, err := log.Append(context.Background(), []byte{byte(i)})
		require.NoError(t, err)
		rps = append(rps, rp)
	}
	require.Equal(t, []uint64{0, 1, 2, 3, 4}, rps)
	require.NoError(t, log.Sync())

	r, err := log.Reader(log.ActiveName())
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 5; i++ {
		rp, payload, err := r.Next()
		require.NoError(t, err)
		require.Equal(t, uint64(i), rp)
		require.Equal(t, []byte{byte(i)}, payload)
	}
	_, _, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestSealsAtConfiguredSize(t *testing.T) {
	dir := t.TempDir()
	// Small enough that a handful of records seal the first segment.
	log, err := Open(dir, recordHeaderSize*3+3)
	require.NoError(t, err)
	defer log.Close()

	for i := 0; i < 5; i++ {
		_, err := log.Append(context.Background(), []byte{byte(i)})
		require.NoError(t, err)
	}

	sealed := log.SealedSince()
	require.NotEmpty(t, sealed)

	names, err := ListSegments(dir)
	require.NoError(t, err)
	require.Len(t, names, 2)
}

func TestReopenDiscoversExistingSegmentsInOrder(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, recordHeaderSize*2+2)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := log.Append(context.Background(), []byte{byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, log.Close())

	names, err := ListSegments(dir)
	require.NoError(t, err)
	require.True(t, len(names) >= 2)

	reopened, err := Open(dir, recordHeaderSize*2+2)
	require.NoError(t, err)
	defer reopened.Close()

	namesAfter, err := ListSegments(dir)
	require.NoError(t, err)
	require.Equal(t, names, namesAfter)
}

func TestRemoveDeletesSealedSegment(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, recordHeaderSize*2+2)
	require.NoError(t, err)
	defer log.Close()

	for i := 0; i < 3; i++ {
		_, err := log.Append(context.Background(), []byte{byte(i)})
		require.NoError(t, err)
	}
	sealed := log.SealedSince()
	require.NotEmpty(t, sealed)
	require.NoError(t, log.Remove(sealed[0]))

	names, err := ListSegments(dir)
	require.NoError(t, err)
	require.NotContains(t, names, sealed[0])
}
