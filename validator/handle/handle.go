// Package handle implements the Block Handle: the mutable, atomically
// flushed, lock-light metadata record described in spec.md §3 and §4.1.
//
// A Handle is read from hot paths (scheduler, wait-for registry, RPC) and
// written from many producers (data arrival, proof arrival, state arrival,
// application, archival). Flag bits and the version counter live in plain
// uint64 words accessed via sync/atomic so reads never block; every setter
// takes the internal mutex, mutates the matching typed field, then publishes
// the new flag word with an atomic store, which is what makes the plain
// field write visible to unsynchronized readers (see flags.go).
package handle

import (
	"sync"
	"sync/atomic"

	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/shardid"
)

// Handle is the per-block metadata record. Zero value is not usable; build
// one with New or NewFromID.
type Handle struct {
	id shardid.IDExt

	mu    sync.Mutex
	flags uint64

	// version is the monotone mutation counter; writtenVersion tracks the
	// last version flushed to storage. need_flush = writtenVersion < version.
	version        uint64
	writtenVersion uint64
	// lock mirrors the lock word packed alongside version in spec.md §3. Go
	// setters serialize via mu instead, so nothing writes it and it stays 0.
	lock uint32

	prevLeft, prevRight shardid.IDExt
	mergeBefore         bool

	nextLeft, nextRight shardid.IDExt
	splitAfter          bool

	stateRootHash [32]byte

	logicalTime uint64
	unixTime    uint32

	isKeyBlock bool

	masterchainRefSeqno uint32
}

// NewFromID creates an empty handle for id with no fields initialised.
func NewFromID(id shardid.IDExt) *Handle {
	return &Handle{id: id}
}

// ID returns the block identity this handle describes.
func (h *Handle) ID() shardid.IDExt { return h.id }

// Version returns the current mutation counter.
func (h *Handle) Version() uint64 { return atomic.LoadUint64(&h.version) }

// NeedFlush reports whether written_version < version (spec.md §8 property 3).
func (h *Handle) NeedFlush() bool {
	return atomic.LoadUint64(&h.writtenVersion) < atomic.LoadUint64(&h.version)
}

// bumpVersion increments the version counter. Callers must hold h.mu.
func (h *Handle) bumpVersion() {
	atomic.AddUint64(&h.version, 1)
}

// setOnce enforces the "idempotent with equality" contract from spec.md
// §4.1: re-setting an already-inited field with the same value is a no-op,
// with a different value is a contract violation.
func setOnce(already bool, equal bool) error {
	if already && !equal {
		return codes.New(codes.ContractViolation, "re-setting an already-inited field with a conflicting value")
	}
	return nil
}

// IsMasterchain reports whether this handle's block belongs to the master shard.
func (h *Handle) IsMasterchain() bool { return h.id.IsMasterchain() }

// --- structure: prev ---

// InitedPrev reports whether the prev-block pointer(s) are known. Per spec.md
// §3, symmetric with inited_next: valid once prev-left is inited and, if
// merge_before, prev-right is also inited.
func (h *Handle) InitedPrev() bool {
	if !h.hasFlag(flagInitedPrevLeft) {
		return false
	}
	if h.mergeBeforeLoaded() && !h.hasFlag(flagInitedPrevRight) {
		return false
	}
	return true
}

// mergeBeforeLoaded reads the merge_before value bit; only meaningful once
// flagInitedPrevLeft is set, enforced by callers.
func (h *Handle) mergeBeforeLoaded() bool { return h.hasFlag(flagMergeBefore) }

// MergeBefore returns whether this block's prev state is a merge of two
// parent states. Panics (contract violation) if prev is not yet inited.
func (h *Handle) MergeBefore() bool {
	if !h.hasFlag(flagInitedPrevLeft) {
		panic(codes.New(codes.ContractViolation, "MergeBefore read before prev inited"))
	}
	return h.mergeBeforeLoaded()
}

// PrevLeft returns the left (or sole) predecessor block id.
func (h *Handle) PrevLeft() shardid.IDExt {
	if !h.hasFlag(flagInitedPrevLeft) {
		panic(codes.New(codes.ContractViolation, "PrevLeft read before inited"))
	}
	return h.prevLeft
}

// PrevRight returns the right predecessor block id of a merge. Only valid
// when MergeBefore() is true.
func (h *Handle) PrevRight() shardid.IDExt {
	if !h.hasFlag(flagInitedPrevRight) {
		panic(codes.New(codes.ContractViolation, "PrevRight read before inited"))
	}
	return h.prevRight
}

// SetPrev initialises the prev-block pointer(s). left is required; right is
// only meaningful when mergeBefore is true.
func (h *Handle) SetPrev(left shardid.IDExt, mergeBefore bool, right shardid.IDExt) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	already := h.hasFlag(flagInitedPrevLeft)
	if err := setOnce(already, already && h.prevLeft == left && h.mergeBeforeLoaded() == mergeBefore); err != nil {
		return err
	}
	if mergeBefore {
		alreadyR := h.hasFlag(flagInitedPrevRight)
		if err := setOnce(alreadyR, alreadyR && h.prevRight == right); err != nil {
			return err
		}
	}
	if already {
		return nil
	}

	h.prevLeft = left
	if mergeBefore {
		h.prevRight = right
		h.setFlag(flagInitedPrevRight)
	}
	if mergeBefore {
		h.setFlag(flagMergeBefore)
	}
	h.setFlag(flagInitedPrevLeft)
	h.bumpVersion()
	return nil
}

// --- structure: next ---

// InitedNext implements spec.md §3: true when the left-next exists and
// either the right-next exists, or the block is known not to split.
func (h *Handle) InitedNext() bool {
	if !h.hasFlag(flagInitedNextLeft) {
		return false
	}
	if h.splitAfterLoaded() {
		return h.hasFlag(flagInitedNextRight)
	}
	return true
}

func (h *Handle) splitAfterLoaded() bool { return h.hasFlag(flagSplitAfter) }

// SplitAfter returns whether this block's state splits into two children.
// Panics if next is not yet inited.
func (h *Handle) SplitAfter() bool {
	if !h.hasFlag(flagInitedNextLeft) {
		panic(codes.New(codes.ContractViolation, "SplitAfter read before next inited"))
	}
	return h.splitAfterLoaded()
}

// NextLeft returns the left (or sole) successor block id.
func (h *Handle) NextLeft() shardid.IDExt {
	if !h.hasFlag(flagInitedNextLeft) {
		panic(codes.New(codes.ContractViolation, "NextLeft read before inited"))
	}
	return h.nextLeft
}

// NextRight returns the right successor block id of a split. Only valid when
// SplitAfter() is true.
func (h *Handle) NextRight() shardid.IDExt {
	if !h.hasFlag(flagInitedNextRight) {
		panic(codes.New(codes.ContractViolation, "NextRight read before inited"))
	}
	return h.nextRight
}

// SetNextLeft initialises (or confirms) the left next-pointer. A conflicting
// write of the left pointer returns an error carrying
// codes.ContractViolation; it does not panic or abort the process.
func (h *Handle) SetNextLeft(next shardid.IDExt, splitAfter bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	already := h.hasFlag(flagInitedNextLeft)
	if err := setOnce(already, already && h.nextLeft == next && h.splitAfterLoaded() == splitAfter); err != nil {
		return err
	}
	if already {
		return nil
	}
	h.nextLeft = next
	if splitAfter {
		h.setFlag(flagSplitAfter)
	}
	h.setFlag(flagInitedNextLeft)
	h.bumpVersion()
	return nil
}

// SetNextRight initialises the right next-pointer of a split block.
func (h *Handle) SetNextRight(next shardid.IDExt) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	already := h.hasFlag(flagInitedNextRight)
	if err := setOnce(already, already && h.nextRight == next); err != nil {
		return err
	}
	if already {
		return nil
	}
	h.nextRight = next
	h.setFlag(flagInitedNextRight)
	h.bumpVersion()
	return nil
}

// --- payload presence ---

// Received reports whether the block's raw bytes are on disk.
func (h *Handle) Received() bool { return h.hasFlag(flagReceived) }

// SetReceived marks the block data as present. Monotone: calling it twice is
// a no-op, never a contract violation (there is no value attached).
func (h *Handle) SetReceived() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasFlag(flagReceived) {
		return
	}
	h.setFlag(flagReceived)
	h.bumpVersion()
}

// InitedProof reports whether a masterchain proof has been stored.
func (h *Handle) InitedProof() bool { return h.hasFlag(flagInitedProof) }

// SetInitedProof marks a masterchain proof as persisted.
func (h *Handle) SetInitedProof() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasFlag(flagInitedProof) {
		return
	}
	h.setFlag(flagInitedProof)
	h.bumpVersion()
}

// InitedProofLink reports whether a non-master proof-link has been stored.
func (h *Handle) InitedProofLink() bool { return h.hasFlag(flagInitedProofLink) }

// SetInitedProofLink marks a proof-link as persisted.
func (h *Handle) SetInitedProofLink() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasFlag(flagInitedProofLink) {
		return
	}
	h.setFlag(flagInitedProofLink)
	h.bumpVersion()
}

// InitedSignatures reports whether a signature set has been stored.
func (h *Handle) InitedSignatures() bool { return h.hasFlag(flagInitedSignatures) }

// SetInitedSignatures marks a signature set as persisted.
func (h *Handle) SetInitedSignatures() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasFlag(flagInitedSignatures) {
		return
	}
	h.setFlag(flagInitedSignatures)
	h.bumpVersion()
}

// InitedStateRootHash reports whether the post-state root hash is known.
func (h *Handle) InitedStateRootHash() bool { return h.hasFlag(flagInitedStateRootHash) }

// StateRootHash returns the post-apply state root hash.
func (h *Handle) StateRootHash() [32]byte {
	if !h.hasFlag(flagInitedStateRootHash) {
		panic(codes.New(codes.ContractViolation, "StateRootHash read before inited"))
	}
	return h.stateRootHash
}

// SetStateRootHash initialises the state root hash.
func (h *Handle) SetStateRootHash(root [32]byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	already := h.hasFlag(flagInitedStateRootHash)
	if err := setOnce(already, already && h.stateRootHash == root); err != nil {
		return err
	}
	if already {
		return nil
	}
	h.stateRootHash = root
	h.setFlag(flagInitedStateRootHash)
	h.bumpVersion()
	return nil
}

// ReceivedState reports whether the materialised state BOC is present.
func (h *Handle) ReceivedState() bool { return h.hasFlag(flagReceivedState) }

// SetReceivedState marks the state BOC as materialised.
func (h *Handle) SetReceivedState() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasFlag(flagReceivedState) {
		return
	}
	h.setFlag(flagReceivedState)
	h.bumpVersion()
}

// --- derived ---

func (h *Handle) InitedLogicalTime() bool { return h.hasFlag(flagInitedLogicalTime) }

func (h *Handle) LogicalTime() uint64 {
	if !h.hasFlag(flagInitedLogicalTime) {
		panic(codes.New(codes.ContractViolation, "LogicalTime read before inited"))
	}
	return h.logicalTime
}

func (h *Handle) SetLogicalTime(lt uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	already := h.hasFlag(flagInitedLogicalTime)
	if err := setOnce(already, already && h.logicalTime == lt); err != nil {
		return err
	}
	if already {
		return nil
	}
	h.logicalTime = lt
	h.setFlag(flagInitedLogicalTime)
	h.bumpVersion()
	return nil
}

func (h *Handle) InitedUnixTime() bool { return h.hasFlag(flagInitedUnixTime) }

func (h *Handle) UnixTime() uint32 {
	if !h.hasFlag(flagInitedUnixTime) {
		panic(codes.New(codes.ContractViolation, "UnixTime read before inited"))
	}
	return h.unixTime
}

func (h *Handle) SetUnixTime(ts uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	already := h.hasFlag(flagInitedUnixTime)
	if err := setOnce(already, already && h.unixTime == ts); err != nil {
		return err
	}
	if already {
		return nil
	}
	h.unixTime = ts
	h.setFlag(flagInitedUnixTime)
	h.bumpVersion()
	return nil
}

func (h *Handle) InitedIsKeyBlock() bool { return h.hasFlag(flagInitedIsKeyBlock) }

func (h *Handle) IsKeyBlock() bool {
	if !h.hasFlag(flagInitedIsKeyBlock) {
		panic(codes.New(codes.ContractViolation, "IsKeyBlock read before inited"))
	}
	return h.hasFlag(flagIsKeyBlock)
}

func (h *Handle) SetIsKeyBlock(v bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	already := h.hasFlag(flagInitedIsKeyBlock)
	if err := setOnce(already, already && h.hasFlag(flagIsKeyBlock) == v); err != nil {
		return err
	}
	if already {
		return nil
	}
	if v {
		h.setFlag(flagIsKeyBlock)
	}
	h.setFlag(flagInitedIsKeyBlock)
	h.bumpVersion()
	return nil
}

func (h *Handle) InitedMasterchainRefBlock() bool { return h.hasFlag(flagInitedMasterchainRefBlock) }

func (h *Handle) MasterchainRefSeqno() uint32 {
	if !h.hasFlag(flagInitedMasterchainRefBlock) {
		panic(codes.New(codes.ContractViolation, "MasterchainRefSeqno read before inited"))
	}
	return h.masterchainRefSeqno
}

func (h *Handle) SetMasterchainRefSeqno(seqno uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	already := h.hasFlag(flagInitedMasterchainRefBlock)
	if err := setOnce(already, already && h.masterchainRefSeqno == seqno); err != nil {
		return err
	}
	if already {
		return nil
	}
	h.masterchainRefSeqno = seqno
	h.setFlag(flagInitedMasterchainRefBlock)
	h.bumpVersion()
	return nil
}

// --- lifecycle ---

// Applied reports whether the block has been applied. Monotone except via
// UnsafeClearApplied (spec.md §8 property 1).
func (h *Handle) Applied() bool { return h.hasFlag(flagApplied) }

func (h *Handle) SetApplied() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasFlag(flagApplied) {
		return
	}
	h.setFlag(flagApplied)
	h.bumpVersion()
}

// UnsafeClearApplied is the explicit admin escape hatch named in
// original_source/validator/invariants.hpp: it is the only way Applied can
// regress, and it exists purely for operator recovery tooling.
func (h *Handle) UnsafeClearApplied() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.hasFlag(flagApplied) {
		return
	}
	h.clearFlag(flagApplied)
	h.bumpVersion()
}

func (h *Handle) Processed() bool { return h.hasFlag(flagProcessed) }

func (h *Handle) SetProcessed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasFlag(flagProcessed) {
		return
	}
	h.setFlag(flagProcessed)
	h.bumpVersion()
}

func (h *Handle) Archived() bool { return h.hasFlag(flagArchived) }

func (h *Handle) SetArchived() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasFlag(flagArchived) {
		return
	}
	h.setFlag(flagArchived)
	h.bumpVersion()
}

func (h *Handle) MovedToArchive() bool { return h.hasFlag(flagMovedToArchive) }

func (h *Handle) SetMovedToArchive() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasFlag(flagMovedToArchive) {
		return
	}
	h.setFlag(flagMovedToArchive)
	h.bumpVersion()
}

func (h *Handle) HandleMovedToArchive() bool { return h.hasFlag(flagHandleMovedToArchive) }

func (h *Handle) SetHandleMovedToArchive() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasFlag(flagHandleMovedToArchive) {
		return
	}
	h.setFlag(flagHandleMovedToArchive)
	h.bumpVersion()
}

func (h *Handle) Deleted() bool { return h.hasFlag(flagDeleted) }

func (h *Handle) SetDeleted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasFlag(flagDeleted) {
		return
	}
	h.setFlag(flagDeleted)
	h.bumpVersion()
}

func (h *Handle) DeletedStateBoc() bool { return h.hasFlag(flagDeletedStateBoc) }

func (h *Handle) SetDeletedStateBoc() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasFlag(flagDeletedStateBoc) {
		return
	}
	h.setFlag(flagDeletedStateBoc)
	h.bumpVersion()
}
