package hh

import (
	"fmt"
	"path/filepath"
	"sync"
)

// segmentStore is C1: it maps an endpoint identifier to its exclusive
// SegmentLog. Consumers acquire a reference-counted handle via acquire
// and must call release exactly once when done; the underlying log
// closes when the last handle drops. Two concurrent first-time
// acquires for the same never-before-seen endpoint may each open a
// log before either has registered it — opening is append-only and
// side-effect-free (segment.Open never truncates), so the loser's
// handle is simply closed and discarded once the race is noticed
// under the lock, mirroring the same accepted tradeoff
// ShardManager.getOrCreate makes for its own construct-and-recheck race.
type segmentStore struct {
	hintsDir   string
	shardID    string
	segSizeMB  int64
	mu         sync.Mutex
	logs       map[EndpointID]*refCountedLog
	newLogFunc func(dir string, maxSegSizeBytes int64) (SegmentLog, error)
}

type refCountedLog struct {
	log  SegmentLog
	refs int
}

func newSegmentStore(cfg Config) *segmentStore {
	return &segmentStore{
		hintsDir:  cfg.HintsDir,
		shardID:   cfg.ShardID,
		segSizeMB: cfg.HintSegmentSizeMB,
		logs:      make(map[EndpointID]*refCountedLog),
		newLogFunc: func(dir string, maxSegSizeBytes int64) (SegmentLog, error) {
			return openDiskSegmentLog(dir, maxSegSizeBytes)
		},
	}
}

func (s *segmentStore) dirFor(ep EndpointID) string {
	return filepath.Join(s.hintsDir, s.shardID, ep.String())
}

// acquire returns the SegmentLog for ep, constructing it on first use.
// Every call registers its own reference: a returning caller must call
// release exactly once. Two callers racing on a never-before-seen
// endpoint may both construct a log before either registers it; the
// loser's handle is closed immediately and only the winner's is kept,
// so refcounting stays correct regardless of which one the other races
// ahead of.
func (s *segmentStore) acquire(ep EndpointID) (SegmentLog, error) {
	s.mu.Lock()
	if rc, ok := s.logs[ep]; ok {
		rc.refs++
		s.mu.Unlock()
		return rc.log, nil
	}
	s.mu.Unlock()

	maxSize := s.segSizeMB << 20
	log, err := s.newLogFunc(s.dirFor(ep), maxSize)
	if err != nil {
		return nil, fmt.Errorf("hh: open segment log for %s: %w", ep, err)
	}

	s.mu.Lock()
	if rc, ok := s.logs[ep]; ok {
		rc.refs++
		s.mu.Unlock()
		_ = log.Close()
		return rc.log, nil
	}
	s.logs[ep] = &refCountedLog{log: log, refs: 1}
	s.mu.Unlock()
	return log, nil
}

// release drops one reference to ep's log, closing it once the last
// holder has released.
func (s *segmentStore) release(ep EndpointID) error {
	s.mu.Lock()
	rc, ok := s.logs[ep]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	rc.refs--
	closeNow := rc.refs <= 0
	if closeNow {
		delete(s.logs, ep)
	}
	s.mu.Unlock()

	if closeNow {
		return rc.log.Close()
	}
	return nil
}
