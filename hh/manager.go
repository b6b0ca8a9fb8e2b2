package hh

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ShardManager is C6, the exported entry point for one shard's hinted
// handoff subsystem. One instance owns every destination endpoint's
// writer/sender pair, the shard-wide disk and in-flight budgets, and
// the space watchdog. Callers construct it once per shard, Start it
// after the collaborators it depends on are ready, and Stop it during
// shutdown to drain cleanly.
type ShardManager struct {
	cfg Config

	fd     FailureDetector
	topo   Topology
	wpath  WritePath
	snitch Snitch
	schema SchemaResolver
	logger *zap.SugaredLogger

	store    *segmentStore
	stats    *stats
	shardSem *semaphore.Weighted
	watchdog *spaceWatchdog

	mu        sync.Mutex
	endpoints map[EndpointID]*endpointManager
	started   bool
	stopped   bool
}

// NewShardManager constructs a shard manager with the given
// collaborators. Call Start before routing any hints to it.
func NewShardManager(cfg Config, fd FailureDetector, topo Topology, wpath WritePath, snitch Snitch, schema SchemaResolver, logger *zap.SugaredLogger) *ShardManager {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	st := newStats(cfg.ShardID)
	return &ShardManager{
		cfg:       cfg,
		fd:        fd,
		topo:      topo,
		wpath:     wpath,
		snitch:    snitch,
		schema:    schema,
		logger:    logger,
		store:     newSegmentStore(cfg),
		stats:     st,
		shardSem:  semaphore.NewWeighted(cfg.MaxSendInFlightMemory),
		watchdog:  newSpaceWatchdog(cfg, logger),
		endpoints: make(map[EndpointID]*endpointManager),
	}
}

// Start discovers any endpoints with hints already on disk (crash
// recovery, or a clean restart with a backlog) and starts their
// replay, plus the space watchdog's periodic sweep.
func (m *ShardManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	shardDir := filepath.Join(m.cfg.HintsDir, m.cfg.ShardID)
	entries, err := os.ReadDir(shardDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("hh: scan shard dir %s: %w", shardDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := m.getOrCreate(EndpointID(e.Name())); err != nil {
			return fmt.Errorf("hh: recover endpoint %s: %w", e.Name(), err)
		}
	}

	m.watchdog.start()
	return nil
}

// Stop drains every endpoint's writer and sender and stops the
// watchdog. It is safe to call once; subsequent calls are no-ops.
func (m *ShardManager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	snapshot := make([]*endpointManager, 0, len(m.endpoints))
	for _, em := range m.endpoints {
		snapshot = append(snapshot, em)
	}
	m.mu.Unlock()

	m.watchdog.stop()

	var firstErr error
	for _, em := range snapshot {
		if err := em.stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *ShardManager) getOrCreate(ep EndpointID) (*endpointManager, error) {
	m.mu.Lock()
	if em, ok := m.endpoints[ep]; ok {
		m.mu.Unlock()
		return em, nil
	}
	m.mu.Unlock()

	em, err := newEndpointManager(ep, m.cfg, m.store, m.stats, m.shardSem, m.fd, m.topo, m.wpath, m.schema, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.endpoints[ep]; ok {
		m.mu.Unlock()
		_ = em.stop()
		return existing, nil
	}
	m.endpoints[ep] = em
	m.mu.Unlock()

	m.watchdog.track(ep, em)
	if err := em.start(); err != nil {
		return nil, fmt.Errorf("hh: start endpoint manager for %s: %w", ep, err)
	}
	return em, nil
}

// StoreHint is §4.1's admission entry point: capture a mutation meant
// for ep, durably if admitted. It returns false, counting the hint as
// dropped and touching no other counter, whenever the shard manager is
// stopped, ep's datacenter isn't hintable, ep has not been seen within
// the hint window, the endpoint is stopping or currently forbidden by
// the watchdog, or the shard-wide in-flight budget is exhausted.
func (m *ShardManager) StoreHint(ctx context.Context, ep EndpointID, mu FrozenMutation, trace Trace) bool {
	trace = orDefaultTrace(trace)

	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		m.logger.Debugw("hint rejected", "endpoint", ep.String(), "trace", trace.String(), "error", wrapErr(KindAdmissionRefused, ErrShardStopped))
		m.stats.addDropped(1)
		return false
	}

	if !m.CheckDCFor(ep) {
		m.logger.Debugw("hint rejected", "endpoint", ep.String(), "trace", trace.String(), "error", wrapErr(KindAdmissionRefused, ErrNotHintable))
		m.stats.addDropped(1)
		return false
	}

	if !m.withinHintWindow(ep) {
		m.logger.Debugw("hint rejected", "endpoint", ep.String(), "trace", trace.String(), "error", wrapErr(KindAdmissionRefused, ErrNotHintable))
		m.stats.addDropped(1)
		return false
	}

	em, err := m.getOrCreate(ep)
	if err != nil {
		m.logger.Warnw("hint rejected: endpoint manager unavailable", "endpoint", ep.String(), "trace", trace.String(), "error", err)
		m.stats.addDropped(1)
		return false
	}

	if m.TooManyInFlightHintsFor(ep) {
		m.logger.Debugw("hint rejected", "endpoint", ep.String(), "trace", trace.String(), "error", wrapErr(KindAdmissionRefused, ErrTooManyInFlight))
		m.stats.addDropped(1)
		return false
	}

	return em.storeHint(ctx, mu, trace)
}

// CanHintFor reports whether ep currently accepts new hints: its
// datacenter must be hintable, the failure detector must have seen it
// within the configured hint window (otherwise it is no longer
// plausibly recoverable), and the space watchdog must not have
// forbidden it for being disproportionately large.
func (m *ShardManager) CanHintFor(ep EndpointID) bool {
	if !m.CheckDCFor(ep) {
		return false
	}
	if !m.withinHintWindow(ep) {
		return false
	}
	m.mu.Lock()
	em, ok := m.endpoints[ep]
	m.mu.Unlock()
	if !ok {
		return true
	}
	return em.canHint()
}

// CheckDCFor reports whether ep's datacenter is configured as
// hintable at all.
func (m *ShardManager) CheckDCFor(ep EndpointID) bool {
	if m.snitch == nil {
		return true
	}
	return m.cfg.dcHintable(m.snitch.Datacenter(ep))
}

// withinHintWindow reports whether ep has been seen by the failure
// detector recently enough to still be a plausible hint recipient.
func (m *ShardManager) withinHintWindow(ep EndpointID) bool {
	if m.fd == nil {
		return true
	}
	return m.fd.LastSeen(ep) <= m.cfg.MaxHintWindow
}

// TooManyInFlightHintsFor reports whether the shard-wide aggregate of
// accepted-but-not-yet-durable bytes has reached the admission cap.
// The budget is shard-wide, matching endpointWriter's own admission
// check; per-endpoint fairness is the space watchdog's concern, not
// admission's.
func (m *ShardManager) TooManyInFlightHintsFor(ep EndpointID) bool {
	return m.SizeOfHintsInProgress() >= m.cfg.MaxSizeOfHintsInProgress
}

// HintsInProgressFor returns the number of bytes accepted for ep but
// not yet durably flushed to its segment log.
func (m *ShardManager) HintsInProgressFor(ep EndpointID) int64 {
	m.mu.Lock()
	em, ok := m.endpoints[ep]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return em.hintsInProgress()
}

// SizeOfHintsInProgress returns the shard-wide total of
// HintsInProgressFor across every tracked endpoint.
func (m *ShardManager) SizeOfHintsInProgress() int64 {
	return m.stats.inProgress()
}

// MarkEndpointNotNormal tells the shard manager an endpoint has left
// the ring (decommission, removal); its queued hints are drained by
// discard rather than delivery. This is the Go-native replacement for
// polling endpoint state from inside the sender loop.
func (m *ShardManager) MarkEndpointNotNormal(ep EndpointID, notNormal bool) {
	m.mu.Lock()
	em, ok := m.endpoints[ep]
	m.mu.Unlock()
	if !ok {
		return
	}
	em.setNotNormal(notNormal)
}

// Rebalance is the hook topology changes call into when the ring
// shape changes. It is intentionally a no-op: resharding hint files
// across endpoints online is out of scope, and recovery after a
// misdirected hint already happens per hint, in send_one_hint's
// natural-endpoints recheck, rather than through a bulk rewrite here.
func (m *ShardManager) Rebalance(ctx context.Context) error {
	m.logger.Infow("rebalance requested; no-op", "shard", m.cfg.ShardID)
	return nil
}

// Stats returns a point-in-time snapshot of shard-wide counters.
func (m *ShardManager) Stats() Snapshot {
	return m.stats.snapshot()
}

// Collector returns a prometheus.Collector for this shard's hinted
// handoff metrics. The caller registers it with whatever registry it
// uses; ShardManager never registers itself.
func (m *ShardManager) Collector() prometheus.Collector {
	return newCollector(m.stats)
}
