package hh

import (
	"fmt"
	"time"
)

// EndpointID identifies a destination replica. It doubles as a map key
// and, via String, as the directory name under which its hints live.
type EndpointID string

func (e EndpointID) String() string { return string(e) }

// ReplayPosition totally orders hints within a single segment. It is
// assigned by the segment log at append time and is meaningless across
// segment boundaries.
type ReplayPosition uint64

// PeerState mirrors the subset of ring membership state this package
// cares about: whether hints for a peer should keep accumulating
// (NORMAL) or be drained by discard (anything else).
type PeerState int

const (
	// StateNormal is a peer fully participating in the ring.
	StateNormal PeerState = iota
	// StateLeft is a peer that has left the ring (decommissioned).
	StateLeft
	// StateUnknown covers any other non-NORMAL state (booting,
	// leaving, moving) — treated the same as StateLeft for draining
	// purposes.
	StateUnknown
)

func (s PeerState) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateLeft:
		return "LEFT"
	default:
		return "UNKNOWN"
	}
}

// ColumnMapping is the schema-version-resolved shape a sender needs to
// interpret a frozen mutation's payload. This package treats it as
// opaque data handed back by a SchemaResolver and cached per segment
// file by the sender.
type ColumnMapping struct {
	Table   string
	Version uint32
	Columns []string
}

// FrozenMutation is the unit of work carried by a hint: enough to
// locate the owning replicas (Table, PartitionKey) and to replay the
// write (Payload), plus the schema version it was frozen under.
type FrozenMutation struct {
	Table         string
	PartitionKey  []byte
	SchemaVersion uint32
	Payload       []byte
}

// Size is the accounting unit used for admission, in-flight tracking,
// and the shard-wide send budget: the mutation's payload size.
func (m FrozenMutation) Size() int64 { return int64(len(m.Payload)) }

func (m FrozenMutation) String() string {
	return fmt.Sprintf("mutation{table=%s, schema=%d, bytes=%d}", m.Table, m.SchemaVersion, len(m.Payload))
}

// now is overridable in tests; production code always calls time.Now.
var now = time.Now
