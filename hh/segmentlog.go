package hh

import (
	"context"
	"time"

	"github.com/coredb/hintedhandoff/internal/segment"
)

// diskSegmentLog adapts internal/segment.Log to the SegmentLog
// interface. It is the default implementation the segment store
// factory constructs; tests substitute fakes that implement
// SegmentLog directly.
type diskSegmentLog struct{ log *segment.Log }

func openDiskSegmentLog(dir string, maxSegSizeBytes int64) (*diskSegmentLog, error) {
	l, err := segment.Open(dir, maxSegSizeBytes)
	if err != nil {
		return nil, err
	}
	return &diskSegmentLog{log: l}, nil
}

func (d *diskSegmentLog) Append(ctx context.Context, payload []byte) (ReplayPosition, error) {
	rp, err := d.log.Append(ctx, payload)
	return ReplayPosition(rp), err
}

func (d *diskSegmentLog) Sync() error { return d.log.Sync() }

func (d *diskSegmentLog) SealedSince() []string { return d.log.SealedSince() }

func (d *diskSegmentLog) Close() error { return d.log.Close() }

func (d *diskSegmentLog) ActiveName() string { return d.log.ActiveName() }

func (d *diskSegmentLog) SealActive() (string, error) { return d.log.SealActive() }

func (d *diskSegmentLog) ListSegments() ([]string, error) { return d.log.ListSegments() }

func (d *diskSegmentLog) Reader(name string) (SegmentReader, error) {
	r, err := d.log.Reader(name)
	if err != nil {
		return nil, err
	}
	return &diskSegmentReader{r: r}, nil
}

func (d *diskSegmentLog) Remove(name string) error { return d.log.Remove(name) }

func (d *diskSegmentLog) ModTime(name string) (time.Time, error) { return d.log.ModTime(name) }

func (d *diskSegmentLog) Size(name string) (int64, error) { return d.log.Size(name) }

type diskSegmentReader struct{ r *segment.Reader }

func (r *diskSegmentReader) Next() (ReplayPosition, []byte, error) {
	rp, payload, err := r.r.Next()
	return ReplayPosition(rp), payload, err
}

func (r *diskSegmentReader) Close() error { return r.r.Close() }

var (
	_ SegmentLog    = (*diskSegmentLog)(nil)
	_ SegmentReader = (*diskSegmentReader)(nil)
)
