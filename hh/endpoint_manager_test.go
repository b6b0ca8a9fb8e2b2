package hh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

func newTestEndpointManager(t *testing.T, cfg Config) (*endpointManager, *fakeWritePath) {
	t.Helper()
	cfg = cfg.WithDefaults()
	cfg.HintsDir = t.TempDir()

	store := newSegmentStore(cfg)
	wpath := newFakeWritePath()
	topo := newFakeTopology()
	topo.SetNaturalEndpoints("t", []EndpointID{"ep1"})

	m, err := newEndpointManager("ep1", cfg, store, newStats(cfg.ShardID), semaphore.NewWeighted(cfg.MaxSendInFlightMemory),
		newFakeFailureDetector(), topo, wpath, newFakeSchemaResolver(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.stop() })

	return m, wpath
}

func TestEndpointManagerStoreHintFlowsToSegmentLog(t *testing.T) {
	m, _ := newTestEndpointManager(t, Config{})
	ok := m.storeHint(context.Background(), FrozenMutation{Table: "t", Payload: []byte("x")}, NewTrace())
	assert.True(t, ok)

	m.writer.wg.Wait()
	assert.EqualValues(t, 1, m.writer.shardStats.snapshot().Written)
}

func TestEndpointManagerAllowForbidHints(t *testing.T) {
	m, _ := newTestEndpointManager(t, Config{})
	assert.True(t, m.canHint())
	m.forbidHints()
	assert.False(t, m.canHint())
	m.allowHints()
	assert.True(t, m.canHint())
}

func TestEndpointManagerDiskUsageCountsActiveSegment(t *testing.T) {
	m, _ := newTestEndpointManager(t, Config{})
	ok := m.storeHint(context.Background(), FrozenMutation{Table: "t", Payload: []byte("hello")}, NewTrace())
	require.True(t, ok)
	m.writer.wg.Wait()

	bytes, segs, err := m.diskUsage()
	require.NoError(t, err)
	assert.Equal(t, 1, segs)
	assert.Greater(t, bytes, int64(0))
}

func TestEndpointManagerStopDrainsWriterAndReleasesLog(t *testing.T) {
	m, _ := newTestEndpointManager(t, Config{})
	require.NoError(t, m.start())
	require.NoError(t, m.stop())

	assert.False(t, m.storeHint(context.Background(), FrozenMutation{Table: "t", Payload: []byte("x")}, NewTrace()))
}
