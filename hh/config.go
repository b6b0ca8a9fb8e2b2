package hh

import "time"

// Config is the immutable configuration surface enumerated in the
// specification (§6). It is constructed once by the caller — loading
// it from a file, flags, or environment is explicitly out of scope for
// this package — and passed to NewShardManager.
type Config struct {
	// HintsDir is the root directory under which every endpoint's
	// segment directory is created on demand:
	// <HintsDir>/<ShardID>/<EndpointID>/<segment files>.
	HintsDir string

	// ShardID names this shard's subtree of HintsDir.
	ShardID string

	// HintedDatacenters is the set of datacenter names eligible for
	// hinting. An empty set means every datacenter is hintable.
	HintedDatacenters map[string]struct{}

	// MaxHintWindow suppresses hinting for peers that have not been
	// seen (per the failure detector) for longer than this.
	MaxHintWindow time.Duration

	// MaxShardDiskSpaceSize is the shard-wide disk budget the
	// watchdog enforces across all endpoint directories.
	MaxShardDiskSpaceSize int64

	// MaxSizeOfHintsInProgress is the admission cap, in bytes, on
	// hints that have been accepted but not yet durably flushed,
	// aggregated across every endpoint on the shard. Default 10MiB
	// per §6.
	MaxSizeOfHintsInProgress int64

	// HintSegmentSizeMB is the size at which the segment log seals
	// the active segment and opens the next. Default 32.
	HintSegmentSizeMB int64

	// MaxHintsSendQueueLength bounds the number of in-flight replay
	// positions from a single segment. Default 128.
	MaxHintsSendQueueLength int

	// MaxSendInFlightMemory bounds the shard-wide aggregate bytes of
	// in-flight send operations via a shared weighted semaphore.
	MaxSendInFlightMemory int64

	// MinSendHintBudget is the minimum per-entry weight drawn from
	// the send semaphore, so that many tiny hints cannot starve the
	// semaphore's bookkeeping. Default 1024 bytes; see DESIGN.md's
	// "Open questions resolved".
	MinSendHintBudget int64

	// HintsFlushPeriod is how often the sender opportunistically
	// requests a durability flush (and replay-queue refresh) from the
	// writer.
	HintsFlushPeriod time.Duration

	// HintFileWriteTimeout bounds a single durable append.
	HintFileWriteTimeout time.Duration

	// WatchdogPeriod is the interval between disk-space audits.
	WatchdogPeriod time.Duration

	// TickInterval is how often the sender's main loop wakes up to
	// evaluate can_send()/flush_maybe()/replay progress. The spec
	// calls this "timer-driven"; this field names the timer period.
	TickInterval time.Duration
}

// WithDefaults returns a copy of c with every zero-valued field
// replaced by its documented default.
func (c Config) WithDefaults() Config {
	if c.MaxHintWindow == 0 {
		c.MaxHintWindow = 3 * time.Hour
	}
	if c.MaxShardDiskSpaceSize == 0 {
		c.MaxShardDiskSpaceSize = 4 << 30 // 4GiB; see DESIGN.md's Open Questions
	}
	if c.MaxSizeOfHintsInProgress == 0 {
		c.MaxSizeOfHintsInProgress = 10 << 20 // 10MiB
	}
	if c.HintSegmentSizeMB == 0 {
		c.HintSegmentSizeMB = 32
	}
	if c.MaxHintsSendQueueLength == 0 {
		c.MaxHintsSendQueueLength = 128
	}
	if c.MaxSendInFlightMemory == 0 {
		c.MaxSendInFlightMemory = 64 << 20 // 10% of a notional 640MiB shard budget
	}
	if c.MinSendHintBudget == 0 {
		c.MinSendHintBudget = 1024
	}
	if c.HintsFlushPeriod == 0 {
		c.HintsFlushPeriod = 10 * time.Second
	}
	if c.HintFileWriteTimeout == 0 {
		c.HintFileWriteTimeout = 2 * time.Second
	}
	if c.WatchdogPeriod == 0 {
		c.WatchdogPeriod = 1 * time.Minute
	}
	if c.TickInterval == 0 {
		c.TickInterval = 1 * time.Second
	}
	if c.ShardID == "" {
		c.ShardID = "0"
	}
	return c
}

// dcHintable reports whether dc is in the configured hintable set.
// An empty HintedDatacenters means every datacenter is hintable.
func (c Config) dcHintable(dc string) bool {
	if len(c.HintedDatacenters) == 0 {
		return true
	}
	_, ok := c.HintedDatacenters[dc]
	return ok
}
