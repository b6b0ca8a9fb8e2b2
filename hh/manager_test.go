package hh_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coredb/hintedhandoff/hh"
	"github.com/coredb/hintedhandoff/hh/hhtest"
)

type managerFixture struct {
	mgr    *hh.ShardManager
	fd     *hhtest.FailureDetector
	topo   *hhtest.Topology
	wpath  *hhtest.WritePath
	snitch *hhtest.Snitch
	schema *hhtest.SchemaResolver
}

func newManagerFixture(t *testing.T, cfg hh.Config) *managerFixture {
	t.Helper()
	cfg.HintsDir = t.TempDir()
	cfg.ShardID = "shard0"

	fd := hhtest.NewFailureDetector()
	topo := hhtest.NewTopology()
	topo.SetNaturalEndpoints("t", []hh.EndpointID{"ep1"})
	wpath := hhtest.NewWritePath()
	snitch := hhtest.NewSnitch()
	schema := hhtest.NewSchemaResolver()

	mgr := hh.NewShardManager(cfg, fd, topo, wpath, snitch, schema, zap.NewNop().Sugar())
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() { _ = mgr.Stop() })

	return &managerFixture{mgr: mgr, fd: fd, topo: topo, wpath: wpath, snitch: snitch, schema: schema}
}

func TestShardManagerStoreHintAcceptsAndWritesThrough(t *testing.T) {
	f := newManagerFixture(t, hh.Config{})
	ok := f.mgr.StoreHint(context.Background(), "ep1", hh.FrozenMutation{Table: "t", Payload: []byte("hello")}, hh.NewTrace())
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		return f.mgr.Stats().Written == 1
	}, time.Second, time.Millisecond)
}

func TestShardManagerStoreHintRefusedWhenDCNotHintable(t *testing.T) {
	cfg := hh.Config{HintedDatacenters: map[string]struct{}{"dc2": {}}}
	f := newManagerFixture(t, cfg)
	f.snitch.SetDatacenter("ep1", "dc1")

	ok := f.mgr.StoreHint(context.Background(), "ep1", hh.FrozenMutation{Table: "t", Payload: []byte("x")}, hh.NewTrace())
	assert.False(t, ok)
	assert.False(t, f.mgr.CheckDCFor("ep1"))
}

func TestShardManagerCanHintForUnknownEndpointDefaultsTrue(t *testing.T) {
	f := newManagerFixture(t, hh.Config{})
	assert.True(t, f.mgr.CanHintFor("never-seen"))
}

func TestShardManagerTooManyInFlightHintsForUntouchedEndpoint(t *testing.T) {
	f := newManagerFixture(t, hh.Config{})
	assert.False(t, f.mgr.TooManyInFlightHintsFor("ep1"))
	assert.EqualValues(t, 0, f.mgr.HintsInProgressFor("ep1"))
	assert.EqualValues(t, 0, f.mgr.SizeOfHintsInProgress())
}

func TestShardManagerMarkEndpointNotNormalOnUnknownEndpointIsNoop(t *testing.T) {
	f := newManagerFixture(t, hh.Config{})
	assert.NotPanics(t, func() { f.mgr.MarkEndpointNotNormal("never-seen", true) })
}

func TestShardManagerRebalanceIsNoop(t *testing.T) {
	f := newManagerFixture(t, hh.Config{})
	assert.NoError(t, f.mgr.Rebalance(context.Background()))
}

func TestShardManagerCollectorReturnsUnregisteredCollector(t *testing.T) {
	f := newManagerFixture(t, hh.Config{})
	c := f.mgr.Collector()
	assert.NotNil(t, c)
}

func TestShardManagerStopIsIdempotent(t *testing.T) {
	f := newManagerFixture(t, hh.Config{})
	assert.NoError(t, f.mgr.Stop())
	assert.NoError(t, f.mgr.Stop())
}

func TestShardManagerStartRecoversExistingEndpointDirectories(t *testing.T) {
	cfg := hh.Config{}
	cfg.HintsDir = t.TempDir()
	cfg.ShardID = "shard0"

	fd := hhtest.NewFailureDetector()
	topo := hhtest.NewTopology()
	topo.SetNaturalEndpoints("t", []hh.EndpointID{"ep1"})
	wpath := hhtest.NewWritePath()
	snitch := hhtest.NewSnitch()
	schema := hhtest.NewSchemaResolver()

	first := hh.NewShardManager(cfg, fd, topo, wpath, snitch, schema, zap.NewNop().Sugar())
	require.NoError(t, first.Start(context.Background()))
	require.True(t, first.StoreHint(context.Background(), "ep1", hh.FrozenMutation{Table: "t", Payload: []byte("x")}, hh.NewTrace()))
	require.Eventually(t, func() bool { return first.Stats().Written == 1 }, time.Second, time.Millisecond)
	require.NoError(t, first.Stop())

	second := hh.NewShardManager(cfg, fd, topo, wpath, snitch, schema, zap.NewNop().Sugar())
	require.NoError(t, second.Start(context.Background()))
	defer second.Stop()

	assert.True(t, second.CanHintFor("ep1"))
}
