package collation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shardnet/shardvalidator/proto/collatorpb"
	"github.com/shardnet/shardvalidator/validator/params"
	"github.com/shardnet/shardvalidator/validator/shardid"
)

type fakeLocal struct {
	calls int
}

func (f *fakeLocal) CollateLocally(ctx context.Context, req *collatorpb.GenerateBlockRequest) (*collatorpb.CandidateResponse, error) {
	f.calls++
	return &collatorpb.CandidateResponse{Id: &collatorpb.BlockIdExt{Workchain: req.Workchain, ShardPrefix: req.ShardPrefix}}, nil
}

func TestCollateBlockMasterAlwaysLocal(t *testing.T) {
	local := &fakeLocal{}
	opts := params.DefaultOptions()
	m := New(opts, nil, local)

	resp, err := m.CollateBlock(context.Background(), shardid.MasterchainWorkchain, shardid.FullShardID, nil, nil, 1, 1, 1, 1<<20, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 1, local.calls)
}

func TestCollateBlockFallsBackToLocalWhenUnconfigured(t *testing.T) {
	local := &fakeLocal{}
	opts := params.DefaultOptions()
	m := New(opts, nil, local)

	_, err := m.CollateBlock(context.Background(), 0, shardid.FullShardID, nil, nil, 1, 1, 1, 1<<20, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 1, local.calls)
}

func TestSelectCollatorRoundRobin(t *testing.T) {
	opts := params.DefaultOptions()
	opts.CollatorList = []params.CollatorListEntry{{
		ShardPrefix:     shardid.FullShardID,
		SelectMode:      params.SelectRoundRobin,
		CollatorAdnlIDs: []string{"a", "b", "c"},
	}}
	m := New(opts, nil, &fakeLocal{})

	var seen []string
	for i := 0; i < 6; i++ {
		id, self, ok := m.selectCollator(shardid.FullShardID)
		require.True(t, ok)
		require.False(t, self)
		seen = append(seen, id)
	}
	require.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, seen)
}

func TestBanCollatorExcludesFromCleanPool(t *testing.T) {
	opts := params.DefaultOptions()
	opts.CollatorList = []params.CollatorListEntry{{
		ShardPrefix:     shardid.FullShardID,
		SelectMode:      params.SelectOrdered,
		CollatorAdnlIDs: []string{"a", "b"},
	}}
	m := New(opts, nil, &fakeLocal{})

	m.BanCollator("a", nil)
	id, _, ok := m.selectCollator(shardid.FullShardID)
	require.True(t, ok)
	require.Equal(t, "b", id)
}

func TestBanAllFallsBackToAllowBanned(t *testing.T) {
	opts := params.DefaultOptions()
	opts.CollatorList = []params.CollatorListEntry{{
		ShardPrefix:     shardid.FullShardID,
		SelectMode:      params.SelectOrdered,
		CollatorAdnlIDs: []string{"a"},
	}}
	m := New(opts, nil, &fakeLocal{})

	m.BanCollator("a", nil)
	id, self, ok := m.selectCollator(shardid.FullShardID)
	require.True(t, ok)
	require.False(t, self)
	require.Equal(t, "a", id)
}

func TestPrevCacheRefcounting(t *testing.T) {
	m := New(params.DefaultOptions(), nil, &fakeLocal{})
	id := shardid.ID{Workchain: 0, ShardPrefix: shardid.FullShardID, Seqno: 5}

	m.retainPrev(id, []byte("body"))
	m.retainPrev(id, []byte("body"))
	m.releasePrev(id)

	resp, err := m.RequestBlockCallback(context.Background(), &collatorpb.RequestBlockCallbackRequest{
		BlockId: &collatorpb.BlockIdExt{Workchain: id.Workchain, ShardPrefix: id.ShardPrefix, Seqno: id.Seqno},
	})
	require.NoError(t, err)
	require.Equal(t, []byte("body"), resp.Data)

	m.releasePrev(id)
	_, err = m.RequestBlockCallback(context.Background(), &collatorpb.RequestBlockCallbackRequest{
		BlockId: &collatorpb.BlockIdExt{Workchain: id.Workchain, ShardPrefix: id.ShardPrefix, Seqno: id.Seqno},
	})
	require.Error(t, err)
}
