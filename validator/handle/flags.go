package handle

import "sync/atomic"

// flagBit is a single bit position within the Handle's atomic flag word.
type flagBit uint64

const (
	flagInitedPrevLeft flagBit = 1 << iota
	flagInitedPrevRight
	flagMergeBefore // value bit, valid once flagInitedPrevLeft is set
	flagInitedNextLeft
	flagInitedNextRight
	flagSplitAfter // value bit, valid once flagInitedNextLeft is set

	flagReceived
	flagInitedProof
	flagInitedProofLink
	flagInitedSignatures
	flagInitedStateRootHash
	flagReceivedState

	flagInitedLogicalTime
	flagInitedUnixTime
	flagInitedIsKeyBlock
	flagIsKeyBlock // value bit, valid once flagInitedIsKeyBlock is set
	flagInitedMasterchainRefBlock

	flagApplied
	flagProcessed
	flagArchived
	flagMovedToArchive
	flagHandleMovedToArchive
	flagDeleted
	flagDeletedStateBoc
)

// wireFlagMask selects the bits that are part of the serialised wire format;
// spec.md §3 excludes processed and handle_moved_to_archive, which are local
// to the current process.
const wireFlagMask = ^(flagProcessed | flagHandleMovedToArchive)

func (h *Handle) hasFlag(f flagBit) bool {
	return flagBit(atomic.LoadUint64(&h.flags))&f != 0
}

// setFlag ORs f into the flag word with release semantics: any plain field
// writes that happened-before this call (under h.mu) become visible to any
// reader that subsequently observes the new bit via hasFlag's atomic load.
// Callers must hold h.mu.
func (h *Handle) setFlag(f flagBit) {
	atomic.StoreUint64(&h.flags, uint64(flagBit(atomic.LoadUint64(&h.flags))|f))
}

// clearFlag clears f from the flag word. Callers must hold h.mu. Used only by
// the unsafe admin path and by the deliberately-not-monotone bits.
func (h *Handle) clearFlag(f flagBit) {
	atomic.StoreUint64(&h.flags, uint64(flagBit(atomic.LoadUint64(&h.flags))&^f))
}
