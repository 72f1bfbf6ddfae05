package checkproof

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardnet/shardvalidator/validator/handle"
	"github.com/shardnet/shardvalidator/validator/shardid"
	"github.com/shardnet/shardvalidator/validator/storage"
	"github.com/shardnet/shardvalidator/validator/storage/memstore"
)

type fakeVerifier struct{}

func (fakeVerifier) Verify(vs *shardid.ValidatorSet, idx int, root [32]byte, sig []byte) bool {
	return len(sig) > 0
}

type fakeMasterState struct {
	seqno uint32
	vs    *shardid.ValidatorSet
}

func (f *fakeMasterState) Seqno() uint32                    { return f.seqno }
func (f *fakeMasterState) ContainsKeyBlock(seqno uint32) bool { return true }
func (f *fakeMasterState) GetValidatorSet(shard uint64, catchainSeqno uint32, unixTime uint32) (*shardid.ValidatorSet, error) {
	return f.vs, nil
}

type fakeParser struct {
	info    *HeaderInfo
	kbConf  KeyBlockConfig
	linkErr error
}

func (f *fakeParser) ParseProof(id shardid.IDExt, proof *storage.Proof) (*HeaderInfo, KeyBlockConfig, error) {
	return f.info, f.kbConf, nil
}

func (f *fakeParser) ParseProofLink(id shardid.IDExt, link *storage.ProofLink) (*HeaderInfo, error) {
	return f.info, f.linkErr
}

func testValidatorSet() *shardid.ValidatorSet {
	return &shardid.ValidatorSet{
		CatchainSeqno: 7,
		List: []shardid.ValidatorDescr{
			{PubKey: [32]byte{1}, Weight: 1},
			{PubKey: [32]byte{2}, Weight: 1},
		},
		TotalWeight: 2,
	}
}

func TestCheckProofNormalModeSucceeds(t *testing.T) {
	id := shardid.IDExt{ID: shardid.ID{Workchain: shardid.MasterchainWorkchain, ShardPrefix: shardid.FullShardID, Seqno: 10}}
	vs := testValidatorSet()
	info := &HeaderInfo{
		BlockID:          id,
		CatchainSeqno:    vs.CatchainSeqno,
		ValidatorSetHash: vs.Hash(),
		MerkleRoot:       id.RootHash,
		SigWeight:        1,
		Signatures:       &shardid.SignatureSet{Signatures: map[int][]byte{0: {0xAB}}},
	}
	parser := &fakeParser{info: info}
	c := New(parser, fakeVerifier{})
	store := memstore.New()
	h := handle.NewFromID(id)
	require.NoError(t, store.StoreBlockHandle(h))

	ms := &fakeMasterState{seqno: 5, vs: vs}
	kb, err := c.CheckProof(context.Background(), store, h, &storage.Proof{ID: id}, Normal, ms)
	require.NoError(t, err)
	require.Nil(t, kb)
	require.True(t, h.InitedProof())
	require.True(t, h.InitedPrev())

	_, ok, err := store.GetBlockProof(h)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckProofRejectsValidatorSetHashMismatch(t *testing.T) {
	id := shardid.IDExt{ID: shardid.ID{Workchain: shardid.MasterchainWorkchain, ShardPrefix: shardid.FullShardID, Seqno: 10}}
	vs := testValidatorSet()
	info := &HeaderInfo{
		BlockID:          id,
		CatchainSeqno:    vs.CatchainSeqno,
		ValidatorSetHash: [32]byte{0xFF},
		MerkleRoot:       id.RootHash,
	}
	parser := &fakeParser{info: info}
	c := New(parser, fakeVerifier{})
	store := memstore.New()
	h := handle.NewFromID(id)

	ms := &fakeMasterState{seqno: 5, vs: vs}
	_, err := c.CheckProof(context.Background(), store, h, &storage.Proof{ID: id}, Normal, ms)
	require.Error(t, err)
	require.False(t, h.InitedProof())
}

func TestCheckProofRejectsMasterSplitMerge(t *testing.T) {
	id := shardid.IDExt{ID: shardid.ID{Workchain: shardid.MasterchainWorkchain, ShardPrefix: shardid.FullShardID, Seqno: 10}}
	vs := testValidatorSet()
	info := &HeaderInfo{
		BlockID:          id,
		AfterSplit:       true,
		CatchainSeqno:    vs.CatchainSeqno,
		ValidatorSetHash: vs.Hash(),
		MerkleRoot:       id.RootHash,
	}
	parser := &fakeParser{info: info}
	c := New(parser, fakeVerifier{})
	store := memstore.New()
	h := handle.NewFromID(id)

	ms := &fakeMasterState{seqno: 5, vs: vs}
	_, err := c.CheckProof(context.Background(), store, h, &storage.Proof{ID: id}, Normal, ms)
	require.Error(t, err)
}

func TestCheckProofLinkStructuralOnly(t *testing.T) {
	id := shardid.IDExt{ID: shardid.ID{Workchain: 0, ShardPrefix: shardid.FullShardID, Seqno: 10}}
	info := &HeaderInfo{
		BlockID:    id,
		MerkleRoot: id.RootHash,
		PrevLeft:   shardid.IDExt{ID: shardid.ID{Workchain: 0, ShardPrefix: shardid.FullShardID, Seqno: 9}},
	}
	parser := &fakeParser{info: info}
	c := New(parser, fakeVerifier{})
	store := memstore.New()
	h := handle.NewFromID(id)

	err := c.CheckProofLink(context.Background(), store, h, &storage.ProofLink{ID: id})
	require.NoError(t, err)
	require.True(t, h.InitedProofLink())

	_, ok, err := store.GetBlockProofLink(h)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckProofLinkRejectsOnMasterchain(t *testing.T) {
	id := shardid.IDExt{ID: shardid.ID{Workchain: shardid.MasterchainWorkchain, ShardPrefix: shardid.FullShardID, Seqno: 10}}
	parser := &fakeParser{}
	c := New(parser, fakeVerifier{})
	store := memstore.New()
	h := handle.NewFromID(id)

	err := c.CheckProofLink(context.Background(), store, h, &storage.ProofLink{ID: id})
	require.Error(t, err)
}
