package hh

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// watchedEndpoint is the slice of endpointManager the watchdog needs.
// Defining it narrowly keeps the watchdog's disk-budget arithmetic
// independent of endpointManager's full surface and lets tests fake
// disk usage without standing up real segment logs.
type watchedEndpoint interface {
	diskUsage() (totalBytes int64, segmentCount int, err error)
	allowHints()
	forbidHints()
}

// spaceWatchdog is C5: a periodic scan that enforces the per-shard disk
// budget. Once the shard total exceeds its configured cap, every
// endpoint holding two or more segment files loses can_hint until the
// next audit clears it; endpoints down to their single active segment
// are always exempt, guaranteeing every destination keeps at least
// one segment's worth of disk share even when a single slow peer
// dominates usage.
type spaceWatchdog struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu        sync.Mutex
	endpoints map[EndpointID]watchedEndpoint

	ticker  *time.Ticker
	closing chan struct{}
	wg      sync.WaitGroup
}

func newSpaceWatchdog(cfg Config, logger *zap.SugaredLogger) *spaceWatchdog {
	return &spaceWatchdog{
		cfg:       cfg,
		logger:    logger,
		endpoints: make(map[EndpointID]watchedEndpoint),
		closing:   make(chan struct{}),
	}
}

func (w *spaceWatchdog) track(ep EndpointID, m watchedEndpoint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.endpoints[ep] = m
}

func (w *spaceWatchdog) untrack(ep EndpointID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.endpoints, ep)
}

func (w *spaceWatchdog) start() {
	w.ticker = time.NewTicker(w.cfg.WatchdogPeriod)
	w.wg.Add(1)
	go w.run()
}

func (w *spaceWatchdog) stop() {
	close(w.closing)
	w.wg.Wait()
	if w.ticker != nil {
		w.ticker.Stop()
	}
}

func (w *spaceWatchdog) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closing:
			return
		case <-w.ticker.C:
			w.sweep()
		}
	}
}

type endpointUsage struct {
	mgr      watchedEndpoint
	segments int
}

// sweep implements §4.5's audit literally: sum disk usage across every
// tracked endpoint; if the shard total exceeds the configured cap,
// every endpoint with two or more segment files loses can_hint, and
// every endpoint down to one segment keeps it. If the total is within
// budget, every tracked endpoint has can_hint restored.
func (w *spaceWatchdog) sweep() {
	w.mu.Lock()
	snapshot := make(map[EndpointID]watchedEndpoint, len(w.endpoints))
	for ep, m := range w.endpoints {
		snapshot[ep] = m
	}
	w.mu.Unlock()

	var usages []endpointUsage
	var total int64
	for ep, m := range snapshot {
		bytes, segs, err := m.diskUsage()
		if err != nil {
			w.logger.Warnw("watchdog disk scan failed", "endpoint", ep.String(), "error", err)
			continue
		}
		usages = append(usages, endpointUsage{mgr: m, segments: segs})
		total += bytes
	}

	over := total > w.cfg.MaxShardDiskSpaceSize
	for _, u := range usages {
		if over && u.segments >= 2 {
			u.mgr.forbidHints()
			continue
		}
		u.mgr.allowHints()
	}
}

