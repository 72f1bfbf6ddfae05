// Package checkproof implements Check-Proof and Check-Proof-Link (spec.md
// §4.4): verifying a block's merkle proof and, for masterchain proofs, its
// signature set, against one of four reference points. Grounded on
// original_source/validator/impl/check-proof.cpp for the stage list and
// beacon-chain/core/state's "deserialize -> verify structure -> verify
// signatures -> populate" control-flow idiom for the Go rendition.
package checkproof

import (
	"context"

	"go.opencensus.io/trace"

	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/handle"
	"github.com/shardnet/shardvalidator/validator/shardid"
	"github.com/shardnet/shardvalidator/validator/storage"
)

// Mode selects which reference point a masterchain proof is checked against.
// Non-master blocks always use ProofLinkMode (structural only, no signature
// verification).
type Mode int

const (
	// Normal checks a master proof against the locally held master state.
	Normal Mode = iota
	// RelState checks a master proof against an explicitly supplied
	// reference master state, validating that state is itself older than
	// the block and contains the claimed prev-key-mc-seqno.
	RelState
	// RelProof checks a master proof against a previous key block's
	// proof-link, which must itself carry the expected key-block seqno.
	RelProof
	// ProofLinkMode checks only structural integrity of a non-master proof
	// link; it performs no signature verification.
	ProofLinkMode
)

// HeaderInfo is the set of fields extractable from a proof's merkle header
// without touching the block body (spec.md §3 "ProofLink/Proof").
type HeaderInfo struct {
	BlockID shardid.IDExt

	CatchainSeqno    uint32
	ValidatorSetHash [32]byte
	PrevKeyMcSeqno   uint32

	AfterSplit, AfterMerge, BeforeSplit bool
	IsKeyBlock                          bool

	PrevLeft, PrevRight shardid.IDExt
	MergeBefore         bool

	StatePreHash, StatePostHash [32]byte

	LogicalTime uint64
	UnixTime    uint32

	SigWeight  uint64
	Signatures *shardid.SignatureSet

	// MerkleRoot is the proof's virtualized root hash, required to match the
	// block's declared root hash.
	MerkleRoot [32]byte
}

// KeyBlockConfig is the validator-set-deriving capability extracted from a
// key block's embedded config (spec.md §6 "extract_from_key_block").
type KeyBlockConfig interface {
	ValidatorSet(shard uint64, catchainSeqno uint32) (*shardid.ValidatorSet, error)
}

// KeyBlockRef bundles a previously-parsed key block's header with its
// embedded config, the reference point for RelProof mode.
type KeyBlockRef struct {
	Info   *HeaderInfo
	Config KeyBlockConfig
}

// ProofParser extracts HeaderInfo (and, for key blocks, their embedded
// config) from the opaque proof/proof-link bytes. Real cell/BOC/merkle-proof
// parsing is out of scope for this core (spec.md §1); callers inject a
// concrete parser backed by the storage layer's block-format knowledge.
type ProofParser interface {
	ParseProof(id shardid.IDExt, proof *storage.Proof) (*HeaderInfo, KeyBlockConfig, error)
	ParseProofLink(id shardid.IDExt, link *storage.ProofLink) (*HeaderInfo, error)
}

// MasterState is the minimal masterchain-state surface needed to derive a
// validator set for Normal/RelState mode.
type MasterState interface {
	Seqno() uint32
	ContainsKeyBlock(seqno uint32) bool
	GetValidatorSet(shard uint64, catchainSeqno, unixTime uint32) (*shardid.ValidatorSet, error)
}

// Checker runs Check-Proof / Check-Proof-Link against injected collaborators.
type Checker struct {
	parser   ProofParser
	verifier shardid.SignatureVerifier
}

func New(parser ProofParser, verifier shardid.SignatureVerifier) *Checker {
	return &Checker{parser: parser, verifier: verifier}
}

// CheckProof verifies a masterchain Proof in the given mode and, on success,
// persists it and populates h's structural fields. ref is the mode-specific
// reference: a MasterState for Normal/RelState, a *KeyBlockRef for RelProof.
// ProofLinkMode is rejected here as unsupported; proof links are checked by
// CheckProofLink. When the checked block is itself a key block, the
// returned KeyBlockConfig lets callers build a KeyBlockRef for future
// RelProof checks against it; it is nil otherwise.
func (c *Checker) CheckProof(ctx context.Context, store storage.Storage, h *handle.Handle, proof *storage.Proof, mode Mode, ref interface{}) (KeyBlockConfig, error) {
	_, span := trace.StartSpan(ctx, "checkproof.CheckProof")
	defer span.End()

	if !h.ID().IsMasterchain() {
		return nil, codes.New(codes.ProtoViolation, "CheckProof called on non-masterchain block %s", h.ID())
	}

	info, kbConfig, err := c.parser.ParseProof(h.ID(), proof)
	if err != nil {
		return nil, codes.Wrap(codes.ProtoViolation, err, "parse proof for %s", h.ID())
	}
	if info.MerkleRoot != h.ID().RootHash {
		return nil, codes.New(codes.ProtoViolation, "proof root hash mismatch for %s", h.ID())
	}
	if err := structuralSanity(h.ID(), info, true); err != nil {
		return nil, err
	}

	vs, err := c.deriveValidatorSet(mode, h.ID(), info, ref)
	if err != nil {
		return nil, err
	}
	if vs.CatchainSeqno != info.CatchainSeqno {
		return nil, codes.New(codes.ProtoViolation, "catchain seqno mismatch: set has %d, proof claims %d", vs.CatchainSeqno, info.CatchainSeqno)
	}
	vsHash := vs.Hash()
	if vsHash != info.ValidatorSetHash {
		return nil, codes.New(codes.ProtoViolation, "validator set hash mismatch for %s", h.ID())
	}

	if mode != ProofLinkMode {
		weight, err := shardid.CheckSignatures(vs, info.MerkleRoot, info.Signatures, c.verifier)
		if err != nil {
			return nil, codes.Wrap(codes.ProtoViolation, err, "signature check failed for %s", h.ID())
		}
		if weight != info.SigWeight {
			return nil, codes.New(codes.ProtoViolation, "signature weight mismatch for %s: computed %d, declared %d", h.ID(), weight, info.SigWeight)
		}
	}

	if err := store.StoreBlockProof(h, proof); err != nil {
		return nil, codes.Wrap(codes.DBError, err, "store block proof for %s", h.ID())
	}
	h.SetInitedProof()
	if err := populateHandle(h, info); err != nil {
		return nil, err
	}
	log.WithField("block", h.ID().String()).Debug("check proof succeeded")
	if !info.IsKeyBlock {
		return nil, nil
	}
	return kbConfig, nil
}

// CheckProofLink verifies a non-master ProofLink structurally only, per
// spec.md §4.4 "prooflink: skip signature verification."
func (c *Checker) CheckProofLink(ctx context.Context, store storage.Storage, h *handle.Handle, link *storage.ProofLink) error {
	_, span := trace.StartSpan(ctx, "checkproof.CheckProofLink")
	defer span.End()

	if h.ID().IsMasterchain() {
		return codes.New(codes.ProtoViolation, "CheckProofLink called on masterchain block %s", h.ID())
	}
	info, err := c.parser.ParseProofLink(h.ID(), link)
	if err != nil {
		return codes.Wrap(codes.ProtoViolation, err, "parse proof link for %s", h.ID())
	}
	if info.MerkleRoot != h.ID().RootHash {
		return codes.New(codes.ProtoViolation, "proof link root hash mismatch for %s", h.ID())
	}
	if err := structuralSanity(h.ID(), info, false); err != nil {
		return err
	}
	if err := store.StoreBlockProofLink(h, link); err != nil {
		return codes.Wrap(codes.DBError, err, "store block proof link for %s", h.ID())
	}
	h.SetInitedProofLink()
	if err := populateHandle(h, info); err != nil {
		return err
	}
	log.WithField("block", h.ID().String()).Debug("check proof link succeeded")
	return nil
}

func (c *Checker) deriveValidatorSet(mode Mode, id shardid.IDExt, info *HeaderInfo, ref interface{}) (*shardid.ValidatorSet, error) {
	switch mode {
	case Normal:
		ms, ok := ref.(MasterState)
		if !ok {
			return nil, codes.New(codes.ContractViolation, "Normal mode requires a MasterState reference")
		}
		return ms.GetValidatorSet(id.ShardPrefix, info.CatchainSeqno, info.UnixTime)

	case RelState:
		ms, ok := ref.(MasterState)
		if !ok {
			return nil, codes.New(codes.ContractViolation, "RelState mode requires a MasterState reference")
		}
		if ms.Seqno() >= id.Seqno {
			return nil, codes.New(codes.ProtoViolation, "reference master state for %s is not older than the block", id)
		}
		if !ms.ContainsKeyBlock(info.PrevKeyMcSeqno) {
			return nil, codes.New(codes.ProtoViolation, "reference master state lacks claimed prev key mc seqno %d", info.PrevKeyMcSeqno)
		}
		return ms.GetValidatorSet(id.ShardPrefix, info.CatchainSeqno, info.UnixTime)

	case RelProof:
		kb, ok := ref.(*KeyBlockRef)
		if !ok {
			return nil, codes.New(codes.ContractViolation, "RelProof mode requires a KeyBlockRef reference")
		}
		if !kb.Info.IsKeyBlock {
			return nil, codes.New(codes.ProtoViolation, "reference proof-link block %s is not a key block", kb.Info.BlockID)
		}
		if kb.Info.BlockID.Seqno != info.PrevKeyMcSeqno {
			return nil, codes.New(codes.ProtoViolation, "reference key block seqno %d does not match claimed prev_key_mc_seqno %d", kb.Info.BlockID.Seqno, info.PrevKeyMcSeqno)
		}
		return kb.Config.ValidatorSet(id.ShardPrefix, info.CatchainSeqno)

	default:
		return nil, codes.New(codes.ContractViolation, "unsupported mode %d for masterchain proof", mode)
	}
}

// structuralSanity enforces spec.md §4.4 step 3.
func structuralSanity(id shardid.IDExt, info *HeaderInfo, isMaster bool) error {
	if info.AfterSplit && info.AfterMerge {
		return codes.New(codes.ProtoViolation, "block %s claims both after_split and after_merge", id)
	}
	if isMaster {
		if info.AfterSplit || info.AfterMerge {
			return codes.New(codes.ProtoViolation, "masterchain block %s cannot split or merge", id)
		}
	} else if info.IsKeyBlock {
		return codes.New(codes.ProtoViolation, "non-masterchain block %s cannot be a key block", id)
	}
	if info.AfterSplit && shardid.ShardPfxLen(id.ShardPrefix) == 0 {
		return codes.New(codes.ProtoViolation, "after_split forbidden at empty shard prefix for %s", id)
	}
	return nil
}

func populateHandle(h *handle.Handle, info *HeaderInfo) error {
	if err := h.SetPrev(info.PrevLeft, info.MergeBefore, info.PrevRight); err != nil {
		return err
	}
	if err := h.SetIsKeyBlock(info.IsKeyBlock); err != nil {
		return err
	}
	if err := h.SetStateRootHash(info.StatePostHash); err != nil {
		return err
	}
	if err := h.SetLogicalTime(info.LogicalTime); err != nil {
		return err
	}
	if h.ID().Seqno > 0 {
		if err := h.SetUnixTime(info.UnixTime); err != nil {
			return err
		}
	}
	return nil
}
