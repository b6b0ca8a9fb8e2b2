package hh

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// endpointManager is C4: the per-endpoint facade pairing one
// endpointWriter (C2) with one endpointSender (C3) and the fileMu they
// share. ShardManager holds one of these per destination endpoint and
// never touches the writer or sender directly.
type endpointManager struct {
	ep     EndpointID
	store  *segmentStore
	writer *endpointWriter
	sender *endpointSender

	fileMu sync.RWMutex
}

func newEndpointManager(ep EndpointID, cfg Config, store *segmentStore, shardStats *stats, shardSem *semaphore.Weighted, fd FailureDetector, topo Topology, wpath WritePath, schema SchemaResolver, logger *zap.SugaredLogger) (*endpointManager, error) {
	log, err := store.acquire(ep)
	if err != nil {
		return nil, err
	}

	m := &endpointManager{ep: ep, store: store}

	m.writer = newEndpointWriter(ep, cfg, log, &m.fileMu, shardStats, logger)
	m.sender = newEndpointSender(ep, cfg, log, &m.fileMu, shardStats, shardSem, fd, topo, wpath, schema, logger)

	m.writer.onSealed = m.sender.enqueueSegments
	m.sender.bindFlush(m.writer.flushCurrentHints)

	return m, nil
}

// start replays whatever is already on disk for this endpoint (crash
// recovery or a process restart with hints pending) and starts the
// sender's tick loop.
func (m *endpointManager) start() error {
	if err := m.writer.populateSegmentsToReplay(); err != nil {
		return err
	}
	m.sender.start()
	return nil
}

// stop drains the writer first (no more appends can start, in-flight
// ones finish) then stops the sender (in-flight sends finish, the tick
// loop exits), and finally releases the shared segment log handle.
func (m *endpointManager) stop() error {
	m.writer.stop()
	m.sender.stop()
	return m.store.release(m.ep)
}

func (m *endpointManager) storeHint(ctx context.Context, mu FrozenMutation, trace Trace) bool {
	return m.writer.storeHint(ctx, mu, trace)
}

func (m *endpointManager) allowHints()  { m.writer.allowHints() }
func (m *endpointManager) forbidHints() { m.writer.forbidHints() }
func (m *endpointManager) canHint() bool { return m.writer.canHintNow() }

func (m *endpointManager) hintsInProgress() int64 {
	return m.writer.hintsInProgressBytes()
}

// setNotNormal tells the sender the endpoint has left the ring: every
// replayed hint for it is discarded instead of dispatched, draining
// the backlog without ever contacting the endpoint again.
func (m *endpointManager) setNotNormal(v bool) { m.sender.setEndpointNotNormal(v) }

// diskUsage reports the endpoint's current on-disk footprint by
// summing its segment files, used by the space watchdog's fairness
// scan. It also reports how many segments exist, since the watchdog's
// fairness rule never forbids an endpoint down to its last segment.
func (m *endpointManager) diskUsage() (totalBytes int64, segmentCount int, err error) {
	m.fileMu.RLock()
	defer m.fileMu.RUnlock()

	names, err := m.writer.log.ListSegments()
	if err != nil {
		return 0, 0, err
	}
	active := m.writer.log.ActiveName()
	seen := false
	for _, n := range names {
		if n == active {
			seen = true
		}
	}
	if !seen {
		names = append(names, active)
	}

	for _, n := range names {
		size, statErr := m.writer.log.Size(n)
		if statErr != nil {
			continue
		}
		totalBytes += size
	}
	return totalBytes, len(names), nil
}
