// Package segment implements the append-only, replay-positioned
// segment log that hh.SegmentLog is defined against. It is the one
// concrete implementation this module ships for what the
// specification otherwise treats as an external black box: a
// directory of fixed-width, monotonically numbered files, sealed at a
// configured size, read back sequentially in write order.
package segment
