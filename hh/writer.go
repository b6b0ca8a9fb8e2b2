package hh

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// endpointWriter is C2: admission, write accounting, flush scheduling,
// and segment-rotation signalling for a single destination endpoint.
// It shares its endpoint's fileMu with the endpointSender (C3):
// appends take the lock in shared mode, flush takes it exclusively.
type endpointWriter struct {
	ep  EndpointID
	cfg Config
	log SegmentLog

	fileMu *sync.RWMutex

	hintsInProgress int64 // bytes accepted but not yet durable, this endpoint
	canHint         int32 // atomic bool
	stopping        int32 // atomic bool

	wg sync.WaitGroup

	shardStats *stats
	logger     *zap.SugaredLogger

	// onSealed receives newly-sealed segment filenames, in ascending
	// order, whenever flushCurrentHints or an append observes them.
	// The endpointManager wires this to the sender's enqueue method.
	onSealed func(names []string)
}

func newEndpointWriter(ep EndpointID, cfg Config, log SegmentLog, fileMu *sync.RWMutex, shardStats *stats, logger *zap.SugaredLogger) *endpointWriter {
	w := &endpointWriter{
		ep:         ep,
		cfg:        cfg,
		log:        log,
		fileMu:     fileMu,
		shardStats: shardStats,
		logger:     logger,
	}
	atomic.StoreInt32(&w.canHint, 1)
	return w
}

func (w *endpointWriter) allowHints()  { atomic.StoreInt32(&w.canHint, 1) }
func (w *endpointWriter) forbidHints() { atomic.StoreInt32(&w.canHint, 0) }
func (w *endpointWriter) canHintNow() bool { return atomic.LoadInt32(&w.canHint) == 1 }
func (w *endpointWriter) isStopping() bool { return atomic.LoadInt32(&w.stopping) == 1 }

func (w *endpointWriter) hintsInProgressBytes() int64 {
	return atomic.LoadInt64(&w.hintsInProgress)
}

// storeHint is §4.2's store_hint. It returns false (and counts the
// hint as dropped) without mutating any other counter whenever
// admission is refused; otherwise it accounts for the hint and
// enqueues the durable append in the background, returning
// immediately per invariant 6.
func (w *endpointWriter) storeHint(ctx context.Context, m FrozenMutation, trace Trace) bool {
	if w.isStopping() {
		w.logger.Debugw("hint rejected", "endpoint", w.ep.String(), "trace", trace.String(), "error", wrapErr(KindAdmissionRefused, ErrStopping))
		w.shardStats.addDropped(1)
		return false
	}
	if !w.canHintNow() {
		w.logger.Debugw("hint rejected", "endpoint", w.ep.String(), "trace", trace.String(), "error", wrapErr(KindAdmissionRefused, ErrForbidden))
		w.shardStats.addDropped(1)
		return false
	}
	size := m.Size()
	if w.shardStats.inProgress()+size > w.cfg.MaxSizeOfHintsInProgress {
		w.logger.Debugw("hint rejected", "endpoint", w.ep.String(), "trace", trace.String(), "error", wrapErr(KindAdmissionRefused, ErrTooManyInFlight))
		w.shardStats.addDropped(1)
		return false
	}

	atomic.AddInt64(&w.hintsInProgress, size)
	w.shardStats.addInProgress(size)

	w.wg.Add(1)
	go w.appendAsync(ctx, m, trace, size)

	return true
}

func (w *endpointWriter) appendAsync(ctx context.Context, m FrozenMutation, trace Trace, size int64) {
	defer w.wg.Done()
	defer func() {
		atomic.AddInt64(&w.hintsInProgress, -size)
		w.shardStats.addInProgress(-size)
	}()

	writeCtx, cancel := context.WithTimeout(ctx, w.cfg.HintFileWriteTimeout)
	defer cancel()

	w.fileMu.RLock()
	_, err := w.log.Append(writeCtx, encodeMutation(m))
	sealed := w.log.SealedSince()
	w.fileMu.RUnlock()

	if err != nil {
		w.shardStats.addErrors(1)
		w.logger.Warnw("hint append failed",
			"endpoint", w.ep.String(), "trace", trace.String(), "table", m.Table, "error", wrapErr(KindDurabilityError, err))
		return
	}
	w.shardStats.addWritten(1)

	if len(sealed) > 0 && w.onSealed != nil {
		w.onSealed(sealed)
	}
}

// flushCurrentHints forces a durability barrier on the active segment
// and hands any newly-sealed segment names to the sender.
func (w *endpointWriter) flushCurrentHints() error {
	w.fileMu.Lock()
	defer w.fileMu.Unlock()

	if err := w.log.Sync(); err != nil {
		return err
	}
	if sealed := w.log.SealedSince(); len(sealed) > 0 && w.onSealed != nil {
		w.onSealed(sealed)
	}
	return nil
}

// populateSegmentsToReplay enumerates every segment currently on disk
// (startup or after crash recovery) and feeds them to the sender in
// ascending filename order, including the active one (the sender
// treats the still-open tail segment no differently from a sealed
// one: it simply hits io.EOF sooner).
func (w *endpointWriter) populateSegmentsToReplay() error {
	w.fileMu.RLock()
	names, err := w.log.ListSegments()
	w.fileMu.RUnlock()
	if err != nil {
		return err
	}
	if len(names) > 0 && w.onSealed != nil {
		w.onSealed(names)
	}
	return nil
}

// stop marks the writer stopping so new store_hint calls fail fast,
// then waits for every in-flight append to resolve (the "gate closes
// after all pending appends resolve" drain).
func (w *endpointWriter) stop() {
	atomic.StoreInt32(&w.stopping, 1)
	w.wg.Wait()
}
