package segment

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrSegmentFull is returned by a segment's append when it has reached
// its configured maximum size; the caller (Log) rotates to a new
// segment and retries there.
var ErrSegmentFull = errors.New("segment: full")

// ErrCorrupt is returned by a reader when a record's length prefix
// would run past the end of the file.
var ErrCorrupt = errors.New("segment: corrupt record")

const recordHeaderSize = 4 + 8 // length prefix + replay position

// writeSegment is one append-only file currently accepting writes.
type writeSegment struct {
	id      uint64
	path    string
	f       *os.File
	w       *bufio.Writer
	size    int64
	maxSize int64
	nextRP  uint64
}

func createSegment(path string, id uint64, maxSize int64) (*writeSegment, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("segment: create %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	seg := &writeSegment{
		id:      id,
		path:    path,
		f:       f,
		w:       bufio.NewWriter(f),
		size:    info.Size(),
		maxSize: maxSize,
	}
	if seg.size > 0 {
		r, err := openReader(path)
		if err != nil {
			f.Close()
			return nil, err
		}
		for {
			rp, _, err := r.next()
			if err != nil {
				break
			}
			seg.nextRP = rp + 1
		}
		r.close()
	}
	return seg, nil
}

// append writes one record and returns its replay position, scoped to
// this segment (positions start at 0 in a new segment, continue after
// the last record when an existing segment is reopened, and are
// meaningless across segments).
func (s *writeSegment) append(payload []byte) (uint64, error) {
	need := int64(recordHeaderSize + len(payload))
	if s.size+need > s.maxSize {
		return 0, ErrSegmentFull
	}

	var hdr [recordHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	rp := s.nextRP
	binary.BigEndian.PutUint64(hdr[4:12], rp)

	if _, err := s.w.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := s.w.Write(payload); err != nil {
		return 0, err
	}

	s.size += need
	s.nextRP++
	return rp, nil
}

func (s *writeSegment) sync() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Sync()
}

func (s *writeSegment) close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// reader reads one segment file sequentially from its beginning,
// regardless of whether the segment is still active or sealed.
type reader struct {
	f *os.File
	r *bufio.Reader
}

func openReader(path string) (*reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &reader{f: f, r: bufio.NewReader(f)}, nil
}

// next returns the next record's replay position and payload, or
// io.EOF once the segment has been fully consumed.
func (r *reader) next() (uint64, []byte, error) {
	var hdr [recordHeaderSize]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, ErrCorrupt
		}
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(hdr[0:4])
	rp := binary.BigEndian.Uint64(hdr[4:12])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, ErrCorrupt
		}
		return 0, nil, err
	}
	return rp, payload, nil
}

func (r *reader) close() error { return r.f.Close() }
