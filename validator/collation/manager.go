// Package collation implements the Collation Manager (spec.md §4.6): routes
// "produce a block for shard S" requests to local collation or to a chosen
// remote collator node, tracking collator health, bans, and the
// optimistic-prev fast-path cache. Grounded on
// original_source/validator/collation-manager.cpp for the pool-selection and
// ban-lifecycle semantics, and on beacon-chain/rpc/service.go for the
// gRPC-dial/retry texture used here instead of literal ADNL/RLDP.
package collation

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/shardnet/shardvalidator/proto/collatorpb"
	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/metrics"
	"github.com/shardnet/shardvalidator/validator/params"
	"github.com/shardnet/shardvalidator/validator/shardid"
)

// retryDelay separates consecutive collation attempts against the same
// shard's pool, mirroring the original's "retry after a short delay".
const retryDelay = 200 * time.Millisecond

// LocalCollator produces a block candidate for the master shard, or for a
// worker shard configured with self_collate.
type LocalCollator interface {
	CollateLocally(ctx context.Context, req *collatorpb.GenerateBlockRequest) (*collatorpb.CandidateResponse, error)
}

// Dialer resolves a collator id to a client stub. Implementations cache
// connections; the Manager itself holds no transport state beyond this.
type Dialer func(collatorID string) (collatorpb.CollatorClient, error)

// collatorRecord is the per-collator-id health record (spec.md §4.6).
type collatorRecord struct {
	id          string
	alive       bool
	activeCnt   int
	bannedUntil time.Time
	version     uint32
	pingAt      time.Time
}

func (r *collatorRecord) banned(now time.Time) bool {
	return now.Before(r.bannedUntil)
}

// prevCacheEntry is a refcounted cached predecessor block body, served back
// to a remote collator via the inbound RequestBlockCallback channel during
// collate_block_optimistic.
type prevCacheEntry struct {
	data     []byte
	refcount int
}

// Manager is the sole owner of collator health and pool routing state.
type Manager struct {
	mu sync.Mutex

	list          map[uint64]params.CollatorListEntry // keyed by shard_prefix
	records       map[string]*collatorRecord
	roundRobinIdx map[uint64]int
	prevCache     map[shardid.ID]*prevCacheEntry

	dial  Dialer
	local LocalCollator

	banDuration  time.Duration
	pingCooldown time.Duration
}

// New constructs a Manager from the configured collator list.
func New(opts *params.Options, dial Dialer, local LocalCollator) *Manager {
	m := &Manager{
		list:          make(map[uint64]params.CollatorListEntry, len(opts.CollatorList)),
		records:       make(map[string]*collatorRecord),
		roundRobinIdx: make(map[uint64]int),
		prevCache:     make(map[shardid.ID]*prevCacheEntry),
		dial:          dial,
		local:         local,
		banDuration:   opts.CollatorBanDuration,
		pingCooldown:  opts.CollatorPingCooldown,
	}
	for _, e := range opts.CollatorList {
		m.list[e.ShardPrefix] = e
		for _, id := range e.CollatorAdnlIDs {
			if _, ok := m.records[id]; !ok {
				m.records[id] = &collatorRecord{id: id, alive: true}
			}
		}
	}
	return m
}

// ValidatorGroupStarted increments active_cnt for every collator configured
// for shard. The count is only tracked: maybePing does not consult it, so
// pinging is not limited to collators in use by an active group.
func (m *Manager) ValidatorGroupStarted(shardPrefix uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.list[shardPrefix]
	if !ok {
		return
	}
	for _, id := range entry.CollatorAdnlIDs {
		if r, ok := m.records[id]; ok {
			r.activeCnt++
		}
	}
}

// ValidatorGroupFinished is the converse of ValidatorGroupStarted.
func (m *Manager) ValidatorGroupFinished(shardPrefix uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.list[shardPrefix]
	if !ok {
		return
	}
	for _, id := range entry.CollatorAdnlIDs {
		if r, ok := m.records[id]; ok && r.activeCnt > 0 {
			r.activeCnt--
		}
	}
}

// BanCollator extends banned_until by the configured ban duration.
func (m *Manager) BanCollator(id string, reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return
	}
	r.bannedUntil = time.Now().Add(m.banDuration)
	log.WithFields(map[string]interface{}{"collator": id, "reason": reason}).Warn("banned collator")
}

// UnbanExpired clears bannedUntil for records whose ban has lapsed; intended
// to be invoked by the embedding application's alarm tick.
func (m *Manager) UnbanExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, r := range m.records {
		if !r.bannedUntil.IsZero() && !r.banned(now) {
			r.bannedUntil = time.Time{}
		}
	}
}

// CollateBlock resolves a block candidate for shardPrefix: local collation
// for the master shard, otherwise a pool-selected remote collator with
// retry up to deadline. workchain distinguishes the master shard.
func (m *Manager) CollateBlock(ctx context.Context, workchain int32, shardPrefix uint64, prev []shardid.IDExt, creatorPubkey []byte, round, firstBlockRound uint32, priority int, maxAnswerSize uint32, deadline time.Time) (*collatorpb.CandidateResponse, error) {
	ctx, span := trace.StartSpan(ctx, "collation.CollateBlock")
	defer span.End()

	req := &collatorpb.GenerateBlockRequest{
		Workchain:       workchain,
		ShardPrefix:     shardPrefix,
		Prev:            toWirePrev(prev),
		CreatorPubkey:   creatorPubkey,
		Round:           round,
		FirstBlockRound: firstBlockRound,
		Priority:        int32(priority),
		MaxAnswerSize:   maxAnswerSize,
	}

	if workchain == shardid.MasterchainWorkchain {
		metrics.CollationsRouted.WithLabelValues("local").Inc()
		return m.local.CollateLocally(ctx, req)
	}

	for {
		id, selfCollate, ok := m.selectCollator(shardPrefix)
		if !ok || selfCollate {
			metrics.CollationsRouted.WithLabelValues("local").Inc()
			return m.local.CollateLocally(ctx, req)
		}

		client, err := m.dial(id)
		if err != nil {
			m.markDead(id)
			if err := m.waitRetry(ctx, deadline); err != nil {
				return nil, err
			}
			continue
		}

		resp, err := client.GenerateBlock(ctx, req)
		if err != nil {
			log.WithFields(map[string]interface{}{"collator": id, "err": err}).Warn("collate_block failed")
			m.markDead(id)
			m.maybePing(ctx, id, client)
			if err := m.waitRetry(ctx, deadline); err != nil {
				return nil, err
			}
			continue
		}
		if err := verifyCandidate(resp, creatorPubkey); err != nil {
			m.BanCollator(id, err)
			if err := m.waitRetry(ctx, deadline); err != nil {
				return nil, err
			}
			continue
		}
		metrics.CollationsRouted.WithLabelValues("remote").Inc()
		return resp, nil
	}
}

// CollateBlockOptimistic behaves as CollateBlock but additionally retains
// prevBlockData under prevBlockID's refcount so an inbound
// RequestBlockCallback during remote collation can serve it back.
func (m *Manager) CollateBlockOptimistic(ctx context.Context, workchain int32, shardPrefix uint64, prev []shardid.IDExt, prevBlockID shardid.IDExt, prevBlockData []byte, creatorPubkey []byte, round, firstBlockRound uint32, priority int, maxAnswerSize uint32, deadline time.Time) (*collatorpb.CandidateResponse, error) {
	m.retainPrev(prevBlockID.ID, prevBlockData)
	defer m.releasePrev(prevBlockID.ID)
	return m.CollateBlock(ctx, workchain, shardPrefix, prev, creatorPubkey, round, firstBlockRound, priority, maxAnswerSize, deadline)
}

// RequestBlockCallback answers a remote collator's inbound request for a
// cached predecessor body; it implements collatorpb.CollatorCallbackServer.
func (m *Manager) RequestBlockCallback(ctx context.Context, req *collatorpb.RequestBlockCallbackRequest) (*collatorpb.RequestBlockCallbackResponse, error) {
	if req.BlockId == nil {
		return nil, codes.New(codes.ProtoViolation, "request_block_callback without a block id")
	}
	id := shardid.ID{Workchain: req.BlockId.Workchain, ShardPrefix: req.BlockId.ShardPrefix, Seqno: req.BlockId.Seqno}
	m.mu.Lock()
	entry, ok := m.prevCache[id]
	m.mu.Unlock()
	if !ok {
		return nil, codes.New(codes.NotReady, "no cached prev block for callback %v", id)
	}
	return &collatorpb.RequestBlockCallbackResponse{Data: entry.data}, nil
}

func (m *Manager) retainPrev(id shardid.ID, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.prevCache[id]; ok {
		e.refcount++
		return
	}
	m.prevCache[id] = &prevCacheEntry{data: data, refcount: 1}
}

func (m *Manager) releasePrev(id shardid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.prevCache[id]
	if !ok {
		return
	}
	e.refcount--
	if e.refcount <= 0 {
		delete(m.prevCache, id)
	}
}

// selectCollator picks a collator id for shardPrefix per the configured
// select_mode, skipping non-alive and banned entries, falling back to
// allowing banned entries if no clean candidate exists, and finally to
// self_collate when configured. ok is false when the shard is unconfigured
// (callers should fall back to local collation).
func (m *Manager) selectCollator(shardPrefix uint64) (id string, selfCollate bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.list[shardPrefix]
	if !ok {
		return "", true, false
	}
	if len(entry.CollatorAdnlIDs) == 0 {
		return "", entry.SelfCollate, true
	}

	now := time.Now()
	clean := m.candidateIndices(entry, now, false)
	pool := clean
	if len(pool) == 0 {
		pool = m.candidateIndices(entry, now, true)
	}
	if len(pool) == 0 {
		return "", entry.SelfCollate, true
	}

	var idx int
	switch entry.SelectMode {
	case params.SelectRandom:
		idx = pool[rand.Intn(len(pool))]
	case params.SelectOrdered:
		idx = pool[0]
	case params.SelectRoundRobin:
		cur := m.roundRobinIdx[shardPrefix]
		idx = pool[cur%len(pool)]
		m.roundRobinIdx[shardPrefix] = cur + 1
	default:
		idx = pool[0]
	}
	return entry.CollatorAdnlIDs[idx], false, true
}

func (m *Manager) candidateIndices(entry params.CollatorListEntry, now time.Time, allowBanned bool) []int {
	var out []int
	for i, id := range entry.CollatorAdnlIDs {
		r, ok := m.records[id]
		if !ok || !r.alive {
			continue
		}
		if !allowBanned && r.banned(now) {
			continue
		}
		out = append(out, i)
	}
	return out
}

func (m *Manager) markDead(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		r.alive = false
	}
}

func (m *Manager) maybePing(ctx context.Context, id string, client collatorpb.CollatorClient) {
	m.mu.Lock()
	r, ok := m.records[id]
	if !ok || time.Since(r.pingAt) < m.pingCooldown {
		m.mu.Unlock()
		return
	}
	r.pingAt = time.Now()
	m.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, m.pingCooldown)
	defer cancel()
	resp, err := client.Ping(pctx, &collatorpb.PingRequest{})
	if err != nil {
		return
	}
	m.mu.Lock()
	r.alive = true
	r.version = resp.Version
	m.mu.Unlock()
}

func (m *Manager) waitRetry(ctx context.Context, deadline time.Time) error {
	if !deadline.IsZero() && time.Now().Add(retryDelay).After(deadline) {
		return codes.New(codes.Timeout, "collation retry deadline exceeded")
	}
	t := time.NewTimer(retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return codes.Wrap(codes.Cancelled, ctx.Err(), "collation retry cancelled")
	case <-t.C:
		return nil
	}
}

func toWirePrev(prev []shardid.IDExt) []*collatorpb.BlockIdExt {
	out := make([]*collatorpb.BlockIdExt, len(prev))
	for i, p := range prev {
		out[i] = &collatorpb.BlockIdExt{
			Workchain:   p.Workchain,
			ShardPrefix: p.ShardPrefix,
			Seqno:       p.Seqno,
			RootHash:    p.RootHash[:],
			FileHash:    p.FileHash[:],
		}
	}
	return out
}

func verifyCandidate(resp *collatorpb.CandidateResponse, expectedCreator []byte) error {
	if resp == nil || resp.Id == nil {
		return errors.New("collator returned a candidate without an id")
	}
	if len(expectedCreator) > 0 && string(resp.SourcePubkey) != string(expectedCreator) {
		return errors.Errorf("collator candidate source mismatch: got %x", resp.SourcePubkey)
	}
	return nil
}
