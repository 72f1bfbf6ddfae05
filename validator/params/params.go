// Package params holds the validator core's external configuration contract
// (spec.md §6 "CLI / configuration boundary"), analogous to the teacher's
// shared/params global-config-by-value pattern.
package params

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/shardnet/shardvalidator/validator/shardid"
)

// CollatorSelectMode governs how the Collation Manager picks a collator node
// for a shard among its configured pool.
type CollatorSelectMode int

const (
	SelectRandom CollatorSelectMode = iota
	SelectOrdered
	SelectRoundRobin
)

// CollatorListEntry configures the collator pool for one shard prefix.
type CollatorListEntry struct {
	ShardPrefix    uint64
	SelectMode     CollatorSelectMode
	CollatorAdnlIDs []string
	SelfCollate    bool
}

// Options is the typed ValidatorManagerOptions contract the core consumes
// (spec.md §6). Configuration loading itself is out of scope; this struct is
// populated by the embedding application.
type Options struct {
	SyncUptoSeqno uint32

	StateTTL     time.Duration
	BlockTTL     time.Duration
	ArchiveTTL   time.Duration
	KeyProofTTL  time.Duration

	MaxMempoolNum int

	// IsHardfork reports whether id names a hardfork block whose bytes are
	// fixed by configuration and whose signature check is bypassed.
	IsHardfork func(id shardid.IDExt) bool

	// VerticalSeqno is an opaque function of seqno; its hardfork policy is
	// outside this core's scope (spec.md §9 Open Questions).
	VerticalSeqno func(seqno uint32) uint32

	CollatorList []CollatorListEntry

	CollatorBanDuration time.Duration
	CollatorPingCooldown time.Duration

	// UnsafeCatchainRotate, when true, causes an extra 4 bytes to be folded
	// into the session-id fingerprint for recovery compatibility (spec.md §9).
	UnsafeCatchainRotate bool
	UnsafeRotateSalt     [4]byte

	// ShouldMonitorShard reports whether the local node tracks (without
	// necessarily validating) the given shard.
	ShouldMonitorShard func(shard uint64) bool

	HandleLRUMaxSize int

	ApplyBlockPriority int

	// GCAdvanceMargin is how many masterchain seqnos behind the current tip
	// the garbage-collection boundary trails, giving late readers (light
	// clients, catch-up peers) a window before state/info/archive GC
	// predicates start returning true for a given block.
	GCAdvanceMargin uint32
}

// Hash fingerprints the subset of Options that affects validator-group
// session identity (spec.md §4.10's "(shard, validator_set, opts_hash,
// last_key_block_seqno)" carry-over key). Fields that only affect local
// scheduling (TTLs, collator pool, mempool caps) are deliberately excluded:
// two nodes with different local tuning must still agree they are running
// the same session.
func (o *Options) Hash() [32]byte {
	h := sha256.New()
	var buf [4]byte
	if o.UnsafeCatchainRotate {
		buf[0] = 1
	}
	h.Write(buf[:1])
	h.Write(o.UnsafeRotateSalt[:])
	binary.BigEndian.PutUint32(buf[:], o.SyncUptoSeqno)
	h.Write(buf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DefaultOptions returns sane defaults matching the constants named
// throughout spec.md and original_source/validator/*.
func DefaultOptions() *Options {
	return &Options{
		StateTTL:             time.Hour,
		BlockTTL:             time.Hour,
		ArchiveTTL:           24 * time.Hour,
		KeyProofTTL:          24 * time.Hour,
		MaxMempoolNum:        8192,
		IsHardfork:           func(shardid.IDExt) bool { return false },
		VerticalSeqno:        func(uint32) uint32 { return 0 },
		CollatorBanDuration:  300 * time.Second,
		CollatorPingCooldown: 5 * time.Second,
		ShouldMonitorShard:   func(uint64) bool { return true },
		HandleLRUMaxSize:     16,
		ApplyBlockPriority:   5,
	}
}
