package segment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FilenamePrefix is the fixed prefix every segment file carries; the
// suffix is a zero-padded, strictly increasing sequence number so
// directory listings sort in write order.
const FilenamePrefix = "hh-"

const suffixWidth = 20

// Log is the append-only segment log for a single endpoint directory.
// It satisfies hh.SegmentLog through the thin adapter in package hh;
// this package has no dependency on hh so the reverse dependency (hh
// importing segment) never cycles.
type Log struct {
	dir         string
	maxSegSize  int64
	mu          sync.Mutex
	active      *writeSegment
	nextID      uint64
	sealedSince []string
}

// Open creates dir if needed, discovers any existing segments, and
// opens (or creates) the tail segment for writing.
func Open(dir string, maxSegSizeBytes int64) (*Log, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("segment: mkdir %s: %w", dir, err)
	}
	names, err := ListSegments(dir)
	if err != nil {
		return nil, err
	}

	l := &Log{dir: dir, maxSegSize: maxSegSizeBytes}

	var maxID uint64
	for _, n := range names {
		id, err := idFromName(n)
		if err != nil {
			continue
		}
		if id > maxID {
			maxID = id
		}
	}

	var activeID uint64
	if len(names) == 0 {
		activeID = 1
	} else {
		activeID = maxID
	}

	seg, err := createSegment(filepath.Join(dir, nameFromID(activeID)), activeID, maxSegSizeBytes)
	if err != nil {
		return nil, err
	}
	l.active = seg
	l.nextID = activeID + 1
	return l, nil
}

// Append writes payload to the active segment and syncs it to disk,
// transparently sealing and rotating to a new one if the active
// segment is full.
func (l *Log) Append(_ context.Context, payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rp, err := l.active.append(payload)
	if err == ErrSegmentFull {
		if serr := l.active.sync(); serr != nil {
			return 0, serr
		}
		sealedName := filepath.Base(l.active.path)
		if cerr := l.active.close(); cerr != nil {
			return 0, cerr
		}
		l.sealedSince = append(l.sealedSince, sealedName)

		next, cerr := createSegment(filepath.Join(l.dir, nameFromID(l.nextID)), l.nextID, l.maxSegSize)
		if cerr != nil {
			return 0, cerr
		}
		l.nextID++
		l.active = next
		rp, err = l.active.append(payload)
	}
	if err != nil {
		return 0, err
	}
	if err := l.active.sync(); err != nil {
		return 0, err
	}
	return rp, nil
}

// Sync forces a durability barrier on the active segment.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active.sync()
}

// SealedSince drains and returns the names of segments sealed since
// the last call, in ascending order.
func (l *Log) SealedSince() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.sealedSince
	l.sealedSince = nil
	return out
}

// Close flushes and closes the active segment. The caller is
// responsible for not issuing concurrent Appends past this point.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active.close()
}

// SealActive forcibly seals the current active segment and opens a
// fresh one in its place, returning the name of the segment just
// sealed. Unlike the rotation Append triggers on reaching maxSegSize,
// this does not record the sealed name in sealedSince: the caller
// already knows the name and is expected to handle it directly.
func (l *Log) SealActive() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.active.sync(); err != nil {
		return "", err
	}
	sealedName := filepath.Base(l.active.path)
	if err := l.active.close(); err != nil {
		return "", err
	}

	next, err := createSegment(filepath.Join(l.dir, nameFromID(l.nextID)), l.nextID, l.maxSegSize)
	if err != nil {
		return "", err
	}
	l.nextID++
	l.active = next
	return sealedName, nil
}

// ActiveName returns the filename of the currently active segment.
func (l *Log) ActiveName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return filepath.Base(l.active.path)
}

// ListSegments returns every segment filename currently on disk for
// this log, in ascending (write) order.
func (l *Log) ListSegments() ([]string, error) {
	return ListSegments(l.dir)
}

// Reader opens the named segment file for sequential forward reads
// from the beginning, whether it is sealed or currently active.
func (l *Log) Reader(name string) (*Reader, error) {
	r, err := openReader(filepath.Join(l.dir, name))
	if err != nil {
		return nil, err
	}
	return &Reader{r: r}, nil
}

// ModTime returns the named segment file's last-modified time.
func (l *Log) ModTime(name string) (time.Time, error) {
	info, err := os.Stat(filepath.Join(l.dir, name))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Size returns the named segment file's current size in bytes.
func (l *Log) Size(name string) (int64, error) {
	info, err := os.Stat(filepath.Join(l.dir, name))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes the named sealed segment file. Removing the active
// segment is a programmer error and will fail underlying I/O calls for
// the log; callers must only remove segments they know are sealed.
func (l *Log) Remove(name string) error {
	return os.Remove(filepath.Join(l.dir, name))
}

// Reader wraps the unexported on-disk reader with the interface shape
// hh expects from hh.SegmentReader.
type Reader struct{ r *reader }

// Next returns the next record's replay position and payload, or
// io.EOF once exhausted.
func (r *Reader) Next() (uint64, []byte, error) { return r.r.next() }

// Close releases the reader's file handle.
func (r *Reader) Close() error { return r.r.close() }

// ListSegments returns every segment filename under dir in ascending
// (write) order, ignoring anything that doesn't match the segment
// naming convention.
func ListSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := idFromName(e.Name()); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func nameFromID(id uint64) string {
	return fmt.Sprintf("%s%0*d", FilenamePrefix, suffixWidth, id)
}

func idFromName(name string) (uint64, error) {
	if !strings.HasPrefix(name, FilenamePrefix) {
		return 0, fmt.Errorf("segment: not a segment file: %s", name)
	}
	return strconv.ParseUint(strings.TrimPrefix(name, FilenamePrefix), 10, 64)
}
