package hh

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// mappingKey identifies a cached column mapping within one file-replay
// pass: one table at one schema version.
type mappingKey struct {
	table   string
	version uint32
}

// fileCtx is the per-segment replay context shared between
// send_one_file's enumerator and the detached per-hint tasks it
// spawns (§9: reference-counted value with an internal gate; here the
// "gate" is the errgroup and the "reference count" is simply the
// lifetime of one sendOneFile call, since nothing outlives it).
type fileCtx struct {
	mu           sync.Mutex
	inFlight     map[ReplayPosition]struct{}
	failed       bool
	restart      bool
	minUnacked   *ReplayPosition
	maxSeen      *ReplayPosition
	mappingCache map[mappingKey]ColumnMapping
}

func newFileCtx() *fileCtx {
	return &fileCtx{
		inFlight:     make(map[ReplayPosition]struct{}),
		mappingCache: make(map[mappingKey]ColumnMapping),
	}
}

func (f *fileCtx) addInFlight(rp ReplayPosition) {
	f.mu.Lock()
	f.inFlight[rp] = struct{}{}
	f.mu.Unlock()
}

func (f *fileCtx) ack(rp ReplayPosition) {
	f.mu.Lock()
	delete(f.inFlight, rp)
	f.mu.Unlock()
}

func (f *fileCtx) markFailed(rp ReplayPosition) {
	f.mu.Lock()
	f.failed = true
	if f.minUnacked == nil || rp < *f.minUnacked {
		cp := rp
		f.minUnacked = &cp
	}
	f.mu.Unlock()
}

func (f *fileCtx) markRestart() {
	f.mu.Lock()
	f.restart = true
	f.mu.Unlock()
}

// observe records rp as read, tracking the highest position seen this
// pass. On a fully successful pass this becomes the watermark below
// which every record is known to have been sent, dropped, or
// discarded, so a later replay never reprocesses it.
func (f *fileCtx) observe(rp ReplayPosition) {
	f.mu.Lock()
	if f.maxSeen == nil || rp > *f.maxSeen {
		cp := rp
		f.maxSeen = &cp
	}
	f.mu.Unlock()
}

func (f *fileCtx) cachedMapping(k mappingKey, resolve func() (ColumnMapping, error)) (ColumnMapping, error) {
	f.mu.Lock()
	if cm, ok := f.mappingCache[k]; ok {
		f.mu.Unlock()
		return cm, nil
	}
	f.mu.Unlock()

	cm, err := resolve()
	if err != nil {
		return ColumnMapping{}, err
	}

	f.mu.Lock()
	f.mappingCache[k] = cm
	f.mu.Unlock()
	return cm, nil
}

func (f *fileCtx) snapshot() (failed, restart bool, minUnacked, maxSeen *ReplayPosition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed, f.restart, f.minUnacked, f.maxSeen
}

// endpointSender is C3: the state machine that replays an endpoint's
// segment files, throttles in-flight mutations, retargets mutations
// when topology has moved, and deletes delivered segments.
type endpointSender struct {
	ep  EndpointID
	cfg Config
	log SegmentLog

	fileMu *sync.RWMutex

	shardStats *stats
	shardSem   *semaphore.Weighted

	fd     FailureDetector
	topo   Topology
	wpath  WritePath
	schema SchemaResolver
	logger *zap.SugaredLogger

	mu              sync.Mutex
	queue           []string
	skipThresholds  map[string]ReplayPosition
	lastFlush       time.Time

	stopping          int32 // atomic bool
	endpointNotNormal int32 // atomic bool

	limiter *rate.Limiter

	// flushHook is bound by endpointManager to the paired writer's
	// flushCurrentHints, keeping C2/C3 talking only through the
	// facade rather than holding direct references to each other.
	flushHook flushFunc

	closing chan struct{}
	wg      sync.WaitGroup
}

type flushFunc func() error

func newEndpointSender(ep EndpointID, cfg Config, log SegmentLog, fileMu *sync.RWMutex, shardStats *stats, shardSem *semaphore.Weighted, fd FailureDetector, topo Topology, wpath WritePath, schema SchemaResolver, logger *zap.SugaredLogger) *endpointSender {
	s := &endpointSender{
		ep:             ep,
		cfg:            cfg,
		log:            log,
		fileMu:         fileMu,
		shardStats:     shardStats,
		shardSem:       shardSem,
		fd:             fd,
		topo:           topo,
		wpath:          wpath,
		schema:         schema,
		logger:         logger,
		skipThresholds: make(map[string]ReplayPosition),
		limiter:        rate.NewLimiter(rate.Every(cfg.TickInterval), 1),
		closing:        make(chan struct{}),
	}
	s.flushHook = func() error { return nil }
	return s
}

func (s *endpointSender) start() {
	s.wg.Add(1)
	go s.run()
}

// stop is cooperative: it sets the stopping flag and waits for the
// main loop to exit (which itself waits for any in-flight
// send_one_file call to finish draining its errgroup).
func (s *endpointSender) stop() {
	if !atomic.CompareAndSwapInt32(&s.stopping, 0, 1) {
		<-s.closing
		return
	}
	close(s.closing)
	s.wg.Wait()
}

func (s *endpointSender) isStopping() bool { return atomic.LoadInt32(&s.stopping) == 1 }

func (s *endpointSender) setEndpointNotNormal(v bool) {
	if v {
		atomic.StoreInt32(&s.endpointNotNormal, 1)
	} else {
		atomic.StoreInt32(&s.endpointNotNormal, 0)
	}
}

func (s *endpointSender) isEndpointNotNormal() bool {
	return atomic.LoadInt32(&s.endpointNotNormal) == 1
}

// enqueueSegments appends newly observed segment names to the replay
// queue, in ascending order, skipping any already queued.
func (s *endpointSender) enqueueSegments(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := make(map[string]struct{}, len(s.queue))
	for _, n := range s.queue {
		existing[n] = struct{}{}
	}
	for _, n := range names {
		if _, ok := existing[n]; !ok {
			s.queue = append(s.queue, n)
			existing[n] = struct{}{}
		}
	}
}

func (s *endpointSender) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *endpointSender) popFront() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", false
	}
	return s.queue[0], true
}

func (s *endpointSender) removeFront(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 && s.queue[0] == name {
		s.queue = s.queue[1:]
	}
}

// canSend is true iff the destination is ALIVE per the failure
// detector, or the sender is draining a decommissioned endpoint by
// discard.
func (s *endpointSender) canSend() bool {
	if s.isEndpointNotNormal() {
		return true
	}
	return s.fd.IsAlive(s.ep)
}

func (s *endpointSender) flushMaybe(flusher func() error) {
	s.mu.Lock()
	due := now().Sub(s.lastFlush) >= s.cfg.HintsFlushPeriod
	if due {
		s.lastFlush = now()
	}
	s.mu.Unlock()

	if !due {
		return
	}
	if err := flusher(); err != nil {
		s.logger.Warnw("flush failed", "endpoint", s.ep.String(), "error", err)
	}
}

// run is the tick-driven main loop (§4.3).
func (s *endpointSender) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closing:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick implements one iteration of the main loop described in §4.3:
// it is split out as its own method so tests can drive it
// deterministically instead of racing a real ticker.
func (s *endpointSender) tick() {
	if s.isStopping() {
		return
	}
	if !s.canSend() {
		return
	}

	s.flushMaybe(s.flushHook)

	deadline := now().Add(s.cfg.TickInterval)
	for now().Before(deadline) {
		if !s.limiter.Allow() {
			// Paces file-send attempts independent of tick drift, so a
			// run of permanent-drop failures doesn't hammer the queue
			// front every tick.
			break
		}
		name, ok := s.popFront()
		if !ok {
			break
		}
		if s.sendOneFile(context.Background(), name) {
			s.removeFront(name)
		} else {
			// Leave it at the front; retry next tick rather than
			// spinning immediately on a file that just failed.
			break
		}
	}
}

func (s *endpointSender) bindFlush(f flushFunc) { s.flushHook = f }

// sendOneFile implements §4.3's send_one_file algorithm.
func (s *endpointSender) sendOneFile(ctx context.Context, name string) bool {
	modTime, err := s.log.ModTime(name)
	if err != nil {
		s.logger.Warnw("stat segment failed", "endpoint", s.ep.String(), "segment", name, "error", err)
		return false
	}

	// Captured before reading so a fully successful pass can later
	// confirm nothing was appended underneath it before being trusted
	// to seal and delete the file.
	startSize, _ := s.log.Size(name)

	reader, err := s.log.Reader(name)
	if err != nil {
		s.logger.Warnw("open segment failed", "endpoint", s.ep.String(), "segment", name, "error", err)
		return false
	}
	defer reader.Close()

	s.mu.Lock()
	threshold, hasThreshold := s.skipThresholds[name]
	s.mu.Unlock()

	fc := newFileCtx()
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.MaxHintsSendQueueLength)

readLoop:
	for {
		rp, payload, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.logger.Warnw("segment read error", "endpoint", s.ep.String(), "segment", name, "error", err)
			fc.markFailed(rp)
			fc.markRestart()
			break
		}
		fc.observe(rp)

		if hasThreshold && rp < threshold {
			continue
		}

		mutation, derr := decodeMutation(payload)
		if derr != nil {
			s.shardStats.addDropped(1)
			s.logger.Warnw("dropping corrupt hint", "endpoint", s.ep.String(), "segment", name, "rp", rp, "error", wrapErr(KindSendPermanentDrop, derr))
			continue
		}

		weight := mutation.Size()
		if weight < s.cfg.MinSendHintBudget {
			weight = s.cfg.MinSendHintBudget
		}

		if err := s.shardSem.Acquire(egCtx, weight); err != nil {
			// Cancellation (shutdown or a sibling failure). Stop
			// reading; what's left is simply retried next pass.
			fc.markFailed(rp)
			break readLoop
		}

		grace := s.schema.GraceSeconds(mutation.Table)
		if now().Sub(modTime) > grace {
			s.shardSem.Release(weight)
			s.shardStats.addDropped(1)
			s.logger.Debugw("dropping hint past grace window", "endpoint", s.ep.String(), "segment", name, "rp", rp, "kind", KindSendPermanentDrop)
			continue
		}

		fc.addInFlight(rp)
		eg.Go(func() error {
			s.sendOneHint(egCtx, fc, rp, mutation, weight)
			return nil
		})
	}

	_ = eg.Wait()

	failed, restart, minUnacked, maxSeen := fc.snapshot()

	switch {
	case !failed && !restart:
		return s.finishSuccessfulPass(name, startSize, maxSeen)
	case failed && !restart:
		s.mu.Lock()
		if minUnacked != nil {
			s.skipThresholds[name] = *minUnacked
		} else {
			delete(s.skipThresholds, name)
		}
		s.mu.Unlock()
		return false
	default: // restart
		s.mu.Lock()
		delete(s.skipThresholds, name)
		s.mu.Unlock()
		return false
	}
}

// finishSuccessfulPass applies send_one_file's bookkeeping once a pass
// over name has ended with every record sent, dropped, or discarded.
// A sealed file is simply deleted. A fully drained active segment is
// trickier: appends can still be landing in it, so it is only deleted
// once it has been sealed and rotated away under the exclusive file
// lock with its size unchanged since the read began, proving nothing
// slipped in underneath the pass. When that can't be confirmed — or
// when a later append races it in afterward — the watermark this pass
// reached is persisted instead, so whenever this segment is next
// replayed (after a natural size-triggered seal, say) it never
// redelivers what this pass already handled.
func (s *endpointSender) finishSuccessfulPass(name string, startSize int64, maxSeen *ReplayPosition) bool {
	if name != s.log.ActiveName() {
		s.mu.Lock()
		delete(s.skipThresholds, name)
		s.mu.Unlock()
		if err := s.log.Remove(name); err != nil {
			s.logger.Warnw("delete replayed segment failed", "endpoint", s.ep.String(), "segment", name, "error", err)
			return false
		}
		return true
	}

	if startSize > 0 {
		retired := false
		s.fileMu.Lock()
		if s.log.ActiveName() == name {
			if cur, err := s.log.Size(name); err == nil && cur == startSize {
				if sealed, err := s.log.SealActive(); err == nil && sealed == name {
					retired = true
				}
			}
		}
		s.fileMu.Unlock()

		if retired {
			s.mu.Lock()
			delete(s.skipThresholds, name)
			s.mu.Unlock()
			if err := s.log.Remove(name); err != nil {
				s.logger.Warnw("delete drained active segment failed", "endpoint", s.ep.String(), "segment", name, "error", err)
			}
			s.enqueueSegments([]string{s.log.ActiveName()})
			return true
		}
	}

	if maxSeen != nil {
		s.mu.Lock()
		s.skipThresholds[name] = *maxSeen + 1
		s.mu.Unlock()
	}
	return true
}

// sendOneHint implements §4.3's send_one_hint algorithm as a detached
// task under send_one_file's errgroup.
func (s *endpointSender) sendOneHint(ctx context.Context, fc *fileCtx, rp ReplayPosition, mutation FrozenMutation, weight int64) {
	defer s.shardSem.Release(weight)

	key := mappingKey{table: mutation.Table, version: mutation.SchemaVersion}
	_, err := fc.cachedMapping(key, func() (ColumnMapping, error) {
		return s.schema.ColumnMapping(mutation.Table, mutation.SchemaVersion)
	})
	if err != nil {
		// Schema resolution failed before any send was attempted: rp
		// state was never registered with the destination.
		fc.markFailed(rp)
		fc.markRestart()
		s.logger.Warnw("schema resolution failed", "endpoint", s.ep.String(), "table", mutation.Table, "error", wrapErr(KindSendTransient, err))
		return
	}

	naturalEndpoints, err := s.topo.NaturalEndpoints(ctx, mutation.Table, mutation.PartitionKey)
	if err != nil {
		fc.markFailed(rp)
		fc.markRestart()
		s.logger.Warnw("topology lookup failed", "endpoint", s.ep.String(), "table", mutation.Table, "error", wrapErr(KindSendTransient, err))
		return
	}

	if s.isEndpointNotNormal() {
		// Draining a decommissioned/left endpoint: discard rather
		// than dispatch anywhere.
		fc.ack(rp)
		s.shardStats.addDropped(1)
		return
	}

	direct := false
	for _, e := range naturalEndpoints {
		if e == s.ep {
			direct = true
			break
		}
	}
	if !direct {
		s.logger.Debugw("hint retargeted at replay time", "endpoint", s.ep.String(), "table", mutation.Table, "kind", KindTopologyRetarget)
	}

	if direct {
		err = s.wpath.MutateDirectly(ctx, s.ep, mutation)
	} else {
		err = s.wpath.MutateAny(ctx, mutation)
	}

	if err != nil {
		fc.markFailed(rp)
		s.logger.Warnw("send failed", "endpoint", s.ep.String(), "table", mutation.Table, "rp", rp, "error", wrapErr(KindSendTransient, err))
		return
	}

	fc.ack(rp)
	s.shardStats.addSent(1)
}
