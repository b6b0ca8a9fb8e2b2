package hh

import (
	"context"
	"time"
)

// SegmentLog is the append-only writer/reader contract for a single
// endpoint's hint stream (§6). Implementations live outside this
// package (see internal/segment for the one this module ships); C1
// only ever talks to a SegmentLog through this interface, never to a
// concrete type, so callers can swap in a different storage backend
// without touching C1 itself.
type SegmentLog interface {
	// Append durably writes payload and returns the replay position
	// the log assigned it. Segment rotation on reaching the
	// configured size is handled internally; the caller observes it
	// only through SealedSince.
	Append(ctx context.Context, payload []byte) (ReplayPosition, error)
	// Sync forces a durability barrier on the active segment.
	Sync() error
	// SealedSince returns the names of segments sealed since the
	// last call, in ascending (write) order.
	SealedSince() []string
	// ActiveName returns the filename of the currently active
	// (unsealed) segment.
	ActiveName() string
	// SealActive forcibly seals the current active segment, opens a
	// fresh one to receive subsequent appends, and returns the sealed
	// segment's name. Callers must hold off concurrent Appends for the
	// duration (the sender does this via the endpoint's shared file
	// lock) so the sealed name's content is exactly what they already
	// observed.
	SealActive() (string, error)
	// ListSegments returns every segment filename currently on disk
	// for this endpoint, in ascending (write) order. Used by
	// populate_segments_to_replay on startup/crash recovery.
	ListSegments() ([]string, error)
	// Reader opens the named segment (sealed or active) for
	// sequential forward reads from the beginning.
	Reader(name string) (SegmentReader, error)
	// Remove deletes the named sealed segment file. Callers must
	// never remove the currently active segment.
	Remove(name string) error
	// ModTime returns the named segment's last-modified time, used by
	// the sender to evaluate grace expiry once per replay pass.
	ModTime(name string) (time.Time, error)
	// Size returns the named segment's current file size in bytes,
	// used by the space watchdog's per-endpoint disk usage scan.
	Size(name string) (int64, error)
	// Close releases the log's resources. Safe to call once the last
	// handle has been released by the owning Store.
	Close() error
}

// SegmentReader reads one sealed or active segment file sequentially
// from the beginning, yielding each record's replay position and raw
// payload in write order.
type SegmentReader interface {
	// Next returns the next (replay position, payload) pair, or
	// io.EOF when the segment has been fully read.
	Next() (ReplayPosition, []byte, error)
	Close() error
}

// FailureDetector is consulted read-only for peer liveness (§6).
type FailureDetector interface {
	IsAlive(ep EndpointID) bool
	LastSeen(ep EndpointID) time.Duration
	State(ep EndpointID) PeerState
}

// Topology answers "who owns this key right now" (§6). Between hint
// capture and replay the answer may have changed; the sender uses this
// to decide whether to deliver directly or retarget via the write path.
type Topology interface {
	NaturalEndpoints(ctx context.Context, table string, partitionKey []byte) ([]EndpointID, error)
}

// WritePath is the coordinator's mutation entry points (§6), used by
// the sender to dispatch a replayed hint.
type WritePath interface {
	// MutateDirectly sends m to ep alone, consistency ONE targeting
	// it specifically.
	MutateDirectly(ctx context.Context, ep EndpointID, m FrozenMutation) error
	// MutateAny re-enters the normal write path at consistency ANY,
	// letting it land on any current replica (or re-hint).
	MutateAny(ctx context.Context, m FrozenMutation) error
}

// Snitch reports which datacenter an endpoint belongs to (§6).
type Snitch interface {
	Datacenter(ep EndpointID) string
}

// SchemaResolver supplies the per-table facts send_one_hint needs:
// the column mapping for a schema version, and the table's grace
// period for expiry checks. See SPEC_FULL.md §6 for why this is named
// explicitly rather than left implicit.
type SchemaResolver interface {
	ColumnMapping(table string, version uint32) (ColumnMapping, error)
	GraceSeconds(table string) time.Duration
}
