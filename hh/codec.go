package hh

import (
	"encoding/binary"
	"fmt"
)

// encodeMutation serializes a FrozenMutation into the byte form a
// segment stores: a handful of fixed/length-prefixed fields followed
// by the opaque payload. This package never needs to interpret the
// payload itself, only frame it alongside enough metadata to replay it
// later.
func encodeMutation(m FrozenMutation) []byte {
	tableLen := len(m.Table)
	keyLen := len(m.PartitionKey)
	buf := make([]byte, 4+tableLen+4+keyLen+4, 4+tableLen+4+keyLen+4+len(m.Payload))

	off := 0
	binary.BigEndian.PutUint32(buf[off:], uint32(tableLen))
	off += 4
	off += copy(buf[off:], m.Table)

	binary.BigEndian.PutUint32(buf[off:], uint32(keyLen))
	off += 4
	off += copy(buf[off:], m.PartitionKey)

	binary.BigEndian.PutUint32(buf[off:], m.SchemaVersion)
	off += 4

	buf = append(buf, m.Payload...)
	return buf
}

func decodeMutation(b []byte) (FrozenMutation, error) {
	if len(b) < 4 {
		return FrozenMutation{}, fmt.Errorf("hh: record too short: %d bytes", len(b))
	}
	off := 0
	tableLen := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if off+tableLen+4 > len(b) {
		return FrozenMutation{}, fmt.Errorf("hh: truncated record")
	}
	table := string(b[off : off+tableLen])
	off += tableLen

	keyLen := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	if off+keyLen+4 > len(b) {
		return FrozenMutation{}, fmt.Errorf("hh: truncated record")
	}
	key := append([]byte(nil), b[off:off+keyLen]...)
	off += keyLen

	schemaVersion := binary.BigEndian.Uint32(b[off:])
	off += 4

	payload := append([]byte(nil), b[off:]...)

	return FrozenMutation{
		Table:         table,
		PartitionKey:  key,
		SchemaVersion: schemaVersion,
		Payload:       payload,
	}, nil
}
