// Package memstore is an in-memory reference implementation of
// validator/storage.Storage, sufficient to drive the core's orchestrators in
// tests. It mirrors the teacher's db.Database interface-first design
// (beacon-chain/db), where the persistent implementation is swappable behind
// the same contract; a real deployment would back this with the actual
// cell-db/BOC store, which is out of scope per spec.md §1.
package memstore

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/handle"
	"github.com/shardnet/shardvalidator/validator/shardid"
	"github.com/shardnet/shardvalidator/validator/storage"
)

type candidateKey struct {
	source       [32]byte
	id           shardid.IDExt
	collatedHash [32]byte
}

// Store is a goroutine-safe, map-backed Storage implementation.
type Store struct {
	mu sync.Mutex

	handles    map[shardid.IDExt]*handle.Handle
	blockData  map[shardid.IDExt][]byte
	proofs     map[shardid.IDExt]*storage.Proof
	proofLinks map[shardid.IDExt]*storage.ProofLink
	sigs       map[shardid.IDExt]*shardid.SignatureSet
	states     map[shardid.IDExt]storage.ShardState
	candidates map[candidateKey]*storage.Candidate

	bySeqno   map[seqnoKey]*handle.Handle
	byUnix    map[unixKey]*handle.Handle
	byLT      map[ltKey]*handle.Handle

	initMC       shardid.IDExt
	gcMC         shardid.IDExt
	shardClient  shardid.IDExt
	haveShardClt bool
	destroyed    []shardid.IDExt
}

type seqnoKey struct {
	wc    int32
	shard uint64
	seqno uint32
}
type unixKey struct {
	wc    int32
	shard uint64
	ts    uint32
}
type ltKey struct {
	wc    int32
	shard uint64
	lt    uint64
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		handles:    make(map[shardid.IDExt]*handle.Handle),
		blockData:  make(map[shardid.IDExt][]byte),
		proofs:     make(map[shardid.IDExt]*storage.Proof),
		proofLinks: make(map[shardid.IDExt]*storage.ProofLink),
		sigs:       make(map[shardid.IDExt]*shardid.SignatureSet),
		states:     make(map[shardid.IDExt]storage.ShardState),
		candidates: make(map[candidateKey]*storage.Candidate),
		bySeqno:    make(map[seqnoKey]*handle.Handle),
		byUnix:     make(map[unixKey]*handle.Handle),
		byLT:       make(map[ltKey]*handle.Handle),
	}
}

func (s *Store) StoreBlockHandle(h *handle.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[h.ID()] = h
	return nil
}

func (s *Store) GetBlockHandle(id shardid.IDExt) (*handle.Handle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	return h, ok, nil
}

func (s *Store) GetBlockData(h *handle.Handle) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.blockData[h.ID()]
	return d, ok, nil
}

func (s *Store) StoreBlockData(h *handle.Handle, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockData[h.ID()] = data
	return nil
}

func (s *Store) GetBlockProof(h *handle.Handle) (*storage.Proof, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proofs[h.ID()]
	return p, ok, nil
}

func (s *Store) StoreBlockProof(h *handle.Handle, proof *storage.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proofs[h.ID()] = proof
	return nil
}

func (s *Store) GetBlockProofLink(h *handle.Handle) (*storage.ProofLink, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proofLinks[h.ID()]
	return p, ok, nil
}

func (s *Store) StoreBlockProofLink(h *handle.Handle, link *storage.ProofLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proofLinks[h.ID()] = link
	return nil
}

func (s *Store) GetBlockSignatures(h *handle.Handle) (*shardid.SignatureSet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sigs[h.ID()]
	return v, ok, nil
}

func (s *Store) StoreBlockSignatures(h *handle.Handle, sigs *shardid.SignatureSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sigs[h.ID()] = sigs
	return nil
}

func (s *Store) StoreBlockState(h *handle.Handle, state storage.ShardState) (storage.ShardState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == nil {
		return nil, errors.New("nil shard state")
	}
	s.states[h.ID()] = state
	return state, nil
}

func (s *Store) GetBlockState(h *handle.Handle) (storage.ShardState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.states[h.ID()]
	return v, ok, nil
}

func (s *Store) StoreBlockCandidate(cand *storage.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[candidateKey{cand.Source, cand.ID, cand.CollatedHash}] = cand
	return nil
}

func (s *Store) GetBlockCandidate(source [32]byte, id shardid.IDExt, collatedHash [32]byte) (*storage.Candidate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.candidates[candidateKey{source, id, collatedHash}]
	return v, ok, nil
}

func (s *Store) GetBlockBySeqno(workchain int32, shardPrefix uint64, seqno uint32) (*handle.Handle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.bySeqno[seqnoKey{workchain, shardPrefix, seqno}]
	return h, ok, nil
}

func (s *Store) GetBlockByUnixTime(workchain int32, shardPrefix uint64, ts uint32) (*handle.Handle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byUnix[unixKey{workchain, shardPrefix, ts}]
	return h, ok, nil
}

func (s *Store) GetBlockByLT(workchain int32, shardPrefix uint64, lt uint64) (*handle.Handle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byLT[ltKey{workchain, shardPrefix, lt}]
	return h, ok, nil
}

// NewBlock atomically persists the (handle, state) pair, indexing it by
// seqno/unix-time/lt for the lookups above. A zerostate (seqno 0) may come
// without a unix time and is then not indexed by it.
func (s *Store) NewBlock(h *handle.Handle, state storage.ShardState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !h.InitedLogicalTime() || (h.ID().Seqno > 0 && !h.InitedUnixTime()) {
		return codes.New(codes.ContractViolation, "NewBlock requires lt (and ts past the zerostate) to already be inited")
	}
	id := h.ID()
	s.handles[id] = h
	s.states[id] = state
	s.bySeqno[seqnoKey{id.Workchain, id.ShardPrefix, id.Seqno}] = h
	if h.InitedUnixTime() {
		s.byUnix[unixKey{id.Workchain, id.ShardPrefix, h.UnixTime()}] = h
	}
	s.byLT[ltKey{id.Workchain, id.ShardPrefix, h.LogicalTime()}] = h
	return nil
}

func (s *Store) UpdateInitMasterchainBlock(id shardid.IDExt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initMC = id
	return nil
}

func (s *Store) UpdateGCMasterchainBlock(id shardid.IDExt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gcMC = id
	return nil
}

func (s *Store) UpdateShardClientState(id shardid.IDExt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shardClient = id
	s.haveShardClt = true
	return nil
}

func (s *Store) GetShardClientState() (shardid.IDExt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shardClient, s.haveShardClt, nil
}

func (s *Store) UpdateDestroyedValidatorSessions(ids []shardid.IDExt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = append([]shardid.IDExt(nil), ids...)
	return nil
}

func (s *Store) GetDestroyedValidatorSessions() ([]shardid.IDExt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shardid.IDExt(nil), s.destroyed...), nil
}

var _ storage.Storage = (*Store)(nil)
