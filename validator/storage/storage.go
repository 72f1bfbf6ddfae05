// Package storage defines the storage collaborator contract the validator
// core invokes (spec.md §6 "Storage"). The persistent implementation (BOC
// serialisation, merkle proof building, cell garbage collection) is out of
// scope per spec.md §1; this package only states the interface and ships an
// in-memory reference implementation (storage/memstore) sufficient to drive
// the core's orchestrators in tests.
package storage

import (
	"github.com/shardnet/shardvalidator/validator/handle"
	"github.com/shardnet/shardvalidator/validator/shardid"
)

// Block is the opaque byte slice described in spec.md §3: parseable to
// extract prev-block refs, master-ref, before_split, split-after,
// want-merge/split, key-block flag, extra fields, and the state-update
// merkle pointer. This package does not parse it; parsing is left to
// collaborators outside this package (spec.md §6 "Block/proof bit layout").
type Block struct {
	ID   shardid.IDExt
	Data []byte
}

// ProofLink is a merkle proof over a non-master block's header, carrying no
// signatures.
type ProofLink struct {
	ID   shardid.IDExt
	Data []byte
}

// Proof additionally binds a signature set over a masterchain block header.
type Proof struct {
	ID   shardid.IDExt
	Data []byte
}

// ShardState is the opaque state tree addressed by BlockIdExt (spec.md §3).
// Its concrete cell/BOC representation is out of scope; the core only needs
// the operations below.
type ShardState interface {
	RootHash() [32]byte
	Shard() uint64
	Seqno() uint32
	BeforeSplit() bool
	// MergeWith combines this state with its sibling to produce the parent
	// shard's state.
	MergeWith(other ShardState) (ShardState, error)
	// Split produces the left/right child states after a shard split.
	Split() (left, right ShardState, err error)
	// ApplyBlock produces the next state given the next block's bytes.
	ApplyBlock(id shardid.IDExt, block *Block) (ShardState, error)
	// MessageQueue returns the outbound message queue for neighbor shards.
	MessageQueue() []shardid.ExternalMessage
}

// Candidate is a not-yet-committed block proposal as announced by the
// consensus session, keyed by (id, source, collated hash).
type Candidate struct {
	ID            shardid.IDExt
	Source        [32]byte
	CollatedHash  [32]byte
	Data          []byte
	CollatedData  []byte
}

// Storage is the full set of operations the core invokes on the storage
// collaborator (spec.md §6).
type Storage interface {
	handle.Flusher

	GetBlockHandle(id shardid.IDExt) (*handle.Handle, bool, error)

	GetBlockData(h *handle.Handle) ([]byte, bool, error)
	StoreBlockData(h *handle.Handle, data []byte) error

	GetBlockProof(h *handle.Handle) (*Proof, bool, error)
	StoreBlockProof(h *handle.Handle, proof *Proof) error

	GetBlockProofLink(h *handle.Handle) (*ProofLink, bool, error)
	StoreBlockProofLink(h *handle.Handle, link *ProofLink) error

	GetBlockSignatures(h *handle.Handle) (*shardid.SignatureSet, bool, error)
	StoreBlockSignatures(h *handle.Handle, sigs *shardid.SignatureSet) error

	// StoreBlockState canonicalises and persists state, returning the
	// canonical in-storage representation (which may differ in identity,
	// never in content, from the value passed in).
	StoreBlockState(h *handle.Handle, state ShardState) (ShardState, error)
	GetBlockState(h *handle.Handle) (ShardState, bool, error)

	StoreBlockCandidate(cand *Candidate) error
	GetBlockCandidate(source [32]byte, id shardid.IDExt, collatedHash [32]byte) (*Candidate, bool, error)

	GetBlockBySeqno(workchain int32, shardPrefix uint64, seqno uint32) (*handle.Handle, bool, error)
	GetBlockByUnixTime(workchain int32, shardPrefix uint64, ts uint32) (*handle.Handle, bool, error)
	GetBlockByLT(workchain int32, shardPrefix uint64, lt uint64) (*handle.Handle, bool, error)

	// NewBlock atomically persists the (handle, state) pair, the single
	// commit point of the Apply-Block orchestrator (spec.md §4.3 stage 9).
	NewBlock(h *handle.Handle, state ShardState) error

	UpdateInitMasterchainBlock(id shardid.IDExt) error
	UpdateGCMasterchainBlock(id shardid.IDExt) error

	UpdateShardClientState(id shardid.IDExt) error
	GetShardClientState() (shardid.IDExt, bool, error)

	UpdateDestroyedValidatorSessions(ids []shardid.IDExt) error
	GetDestroyedValidatorSessions() ([]shardid.IDExt, error)
}
