package shardid

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"
)

// ValidatorDescr is one member of a validator set: a public key, an optional
// ADNL routing id, and a relative weight.
type ValidatorDescr struct {
	PubKey [32]byte
	AdnlID [32]byte
	Weight uint64
}

// ValidatorSet is the ordered list of validators responsible for a
// (shard, catchain_seqno) rotation.
type ValidatorSet struct {
	CatchainSeqno uint32
	List          []ValidatorDescr
	TotalWeight   uint64
}

// Hash is the structural fingerprint used as validator_set_hash throughout
// the core (proof checking, session-id derivation, group carry-over).
func (vs *ValidatorSet) Hash() [32]byte {
	h := sha256.New()
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], vs.CatchainSeqno)
	h.Write(buf[:])
	for _, v := range vs.List {
		h.Write(v.PubKey[:])
		h.Write(v.AdnlID[:])
		var wb [8]byte
		binary.BigEndian.PutUint64(wb[:], v.Weight)
		h.Write(wb[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SignatureSet pairs each signing validator index with its raw signature.
type SignatureSet struct {
	Signatures map[int][]byte
}

// SignatureVerifier is the injected signature-checking capability; the core
// never implements a cryptographic primitive itself (spec.md §1 Non-goals).
type SignatureVerifier interface {
	// Verify reports whether sig is a valid signature of root by the
	// validator at index idx within vs.
	Verify(vs *ValidatorSet, idx int, root [32]byte, sig []byte) bool
}

// CheckSignatures verifies sigs against vs using verifier and returns the
// accumulated weight of valid signers, or an error describing the first
// invalid signature encountered.
func CheckSignatures(vs *ValidatorSet, root [32]byte, sigs *SignatureSet, verifier SignatureVerifier) (uint64, error) {
	var weight uint64
	for idx, sig := range sigs.Signatures {
		if idx < 0 || idx >= len(vs.List) {
			return 0, errors.Errorf("signature set references out-of-range validator index %d", idx)
		}
		if !verifier.Verify(vs, idx, root, sig) {
			return 0, errors.Errorf("invalid signature from validator index %d", idx)
		}
		weight += vs.List[idx].Weight
	}
	return weight, nil
}
