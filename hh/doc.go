// Package hh implements the per-shard hinted-handoff lifecycle engine
// for a sharded, distributed database: admission and durable write of
// hints intended for unreachable replicas, on-disk segment bookkeeping,
// and a replay state machine that delivers each hint to a currently
// responsible replica at least once, or discards it under explicit
// policy. A segment pass that fails part-way is replayed from its
// earliest unacknowledged hint, which can resend later hints that had
// already succeeded.
//
// A shard is a single-threaded cooperative domain: one ShardManager
// owns one shard's endpoint managers, send budget, and watchdog.
// Multiple shards run independently in the same process with no shared
// state beyond an optional shared prometheus registry.
package hh
