// Package group implements the Validator Group (spec.md §4.9): one actor
// per (shard, session_id) adapting the consensus session's callbacks
// (on_generate_slot, on_candidate, on_block_committed, on_block_skipped) to
// the validator-manager plane. Grounded on
// original_source/validator/validator-group.cpp for the callback contract
// and postponed-accept/destroy-delay lifecycle, and on
// beacon-chain/sync/initial-sync's cache-and-broadcast pattern for the
// in-round candidate cache.
package group

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"go.opencensus.io/trace"

	"github.com/shardnet/shardvalidator/proto/collatorpb"
	"github.com/shardnet/shardvalidator/validator/applyblock"
	"github.com/shardnet/shardvalidator/validator/candidates"
	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/handle"
	"github.com/shardnet/shardvalidator/validator/metrics"
	"github.com/shardnet/shardvalidator/validator/shardid"
	"github.com/shardnet/shardvalidator/validator/storage"
)

// destroyDelay is how long catchain teardown is deferred after Destroy, so
// late signatures from peers still land (spec.md §4.9).
const destroyDelay = 10 * time.Second

// Collator is the subset of validator/collation.Manager the group needs.
type Collator interface {
	CollateBlock(ctx context.Context, workchain int32, shardPrefix uint64, prev []shardid.IDExt, creatorPubkey []byte, round, firstBlockRound uint32, priority int, maxAnswerSize uint32, deadline time.Time) (*collatorpb.CandidateResponse, error)
}

// CandidateValidator is the validate-query collaborator named in spec.md
// §4.9: it checks a proposed candidate's block content against prevIDs and
// the validator set, independent of consensus-level approval bookkeeping.
type CandidateValidator interface {
	ValidateQuery(ctx context.Context, round uint32, prevIDs []shardid.IDExt, cand *storage.Candidate, vs *shardid.ValidatorSet) error
}

// Applier is the subset of validator/applyblock.Orchestrator the group
// needs to commit an accepted candidate.
type Applier interface {
	Apply(ctx context.Context, id shardid.IDExt, data []byte, masterchainRef shardid.IDExt, deadline time.Time) error
}

var _ Applier = (*applyblock.Orchestrator)(nil)

// BlockStats is the record emitted on each accepted block, for whatever
// telemetry sink the embedding application wires up.
type BlockStats struct {
	Round   uint32
	ID      shardid.IDExt
	SigCnt  int
	ApproveSigCnt int
}

type genCacheEntry struct {
	done chan struct{}
	cand *storage.Candidate
	err  error
}

type approvalKey struct {
	source       [32]byte
	id           shardid.IDExt
	dataHash     [32]byte
	collatedHash [32]byte
}

// AcceptArgs is on_block_committed's payload (spec.md §4.9), gathered into
// one struct per Go idiom instead of the original's positional parameters.
type AcceptArgs struct {
	Round        uint32
	Source       [32]byte
	RootHash     [32]byte
	FileHash     [32]byte
	Data         []byte
	CollatedData []byte
	Sigs         *shardid.SignatureSet
	ApproveSigs  *shardid.SignatureSet
}

// Group is one (shard, session_id) consensus-session adapter.
type Group struct {
	id            SessionID
	shard         shardid.ID
	catchainSeqno uint32
	priority      int

	store     storage.Storage
	collator  Collator
	validator CandidateValidator
	applier   Applier

	mu              sync.Mutex
	started         bool
	destroyed       bool
	destroyTimer    *time.Timer
	prevBlockIDs    []shardid.IDExt
	minMcRef        shardid.IDExt
	knownRound      uint32
	vs              *shardid.ValidatorSet
	genCache        map[uint32]*genCacheEntry
	approvals       map[approvalKey]bool
	genUnixTime     map[uint32]uint32
	postponed       []AcceptArgs

	// candidates is the spec.md §4.5 Candidates Buffer for this group's
	// in-round proposals: genCache dedupes the local CollateBlock RPC itself
	// and approvals dedupes repeat validation work, but the derived
	// post-apply state of a pending candidate is expensive to recompute and
	// wanted by more than this group (RPC queries, optimistic collation), so
	// it is held here instead of thrown away after OnCandidate returns.
	candidates *candidates.Buffer

	NewBlock event.Feed // emits BlockStats on every accepted block
}

// New constructs a Group; it registers (inits) the session but does not
// start catchain participation until Start is called.
func New(id SessionID, shard shardid.ID, catchainSeqno uint32, vs *shardid.ValidatorSet, store storage.Storage, collator Collator, validator CandidateValidator, applier Applier, priority int) *Group {
	g := &Group{
		id:            id,
		shard:         shard,
		catchainSeqno: catchainSeqno,
		vs:            vs,
		store:         store,
		collator:      collator,
		validator:     validator,
		applier:       applier,
		priority:      priority,
		genCache:      make(map[uint32]*genCacheEntry),
		approvals:     make(map[approvalKey]bool),
		genUnixTime:   make(map[uint32]uint32),
	}
	g.candidates = candidates.New(nil, g.resolvePrevState)
	return g
}

// resolvePrevState implements the Candidates Buffer's predecessor-state half
// (spec.md §4.5) for this group's own in-round candidates: the group already
// knows its current prevBlockIDs, so this performs the same split-across-a-
// shard-boundary / merge-two-parents composition
// validator/waitfor.Composer.composePrevState performs for committed blocks,
// just scoped to the predecessor(s) this group itself is building on.
func (g *Group) resolvePrevState(ctx context.Context, id shardid.IDExt) (storage.ShardState, error) {
	g.mu.Lock()
	prevIDs := append([]shardid.IDExt(nil), g.prevBlockIDs...)
	g.mu.Unlock()

	switch len(prevIDs) {
	case 0:
		return nil, codes.New(codes.NotReady, "group for shard %x has no known predecessor state yet", g.shard.ShardPrefix)
	case 1:
		return g.stateProjectedOnto(prevIDs[0], id)
	default:
		left, err := g.stateProjectedOnto(prevIDs[0], id)
		if err != nil {
			return nil, err
		}
		right, err := g.stateProjectedOnto(prevIDs[1], id)
		if err != nil {
			return nil, err
		}
		return left.MergeWith(right)
	}
}

// stateProjectedOnto resolves parentID's materialised state and, if the
// candidate id's shard is finer (the candidate is one half of a pending
// split), splits it and keeps the matching half.
func (g *Group) stateProjectedOnto(parentID, id shardid.IDExt) (storage.ShardState, error) {
	ph, ok, err := g.store.GetBlockHandle(parentID)
	if err != nil {
		return nil, codes.Wrap(codes.DBError, err, "get parent handle %s", parentID)
	}
	if !ok {
		return nil, codes.New(codes.NotReady, "parent handle %s not known", parentID)
	}
	state, ok, err := g.store.GetBlockState(ph)
	if err != nil {
		return nil, codes.Wrap(codes.DBError, err, "get parent state %s", parentID)
	}
	if !ok {
		return nil, codes.New(codes.NotReady, "parent state %s not yet materialised", parentID)
	}
	if state.Shard() == id.ShardPrefix {
		return state, nil
	}
	left, right, err := state.Split()
	if err != nil {
		return nil, codes.Wrap(codes.ProtoViolation, err, "split parent state %s", parentID)
	}
	if shardid.ShardChild(state.Shard(), true) == id.ShardPrefix {
		return left, nil
	}
	return right, nil
}

// CandidateState returns a pending candidate's derived post-apply state from
// this group's Candidates Buffer, for consumers other than this group's own
// consensus callbacks (RPC queries, optimistic collation; spec.md §4.5).
func (g *Group) CandidateState(ctx context.Context, id shardid.IDExt) (storage.ShardState, error) {
	return g.candidates.GetBlockState(ctx, id)
}

// Start begins catchain participation from prevIDs/minMcRef, replaying any
// accept callbacks that arrived during catchain recovery before Start.
func (g *Group) Start(prevIDs []shardid.IDExt, minMcRef shardid.IDExt) {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.prevBlockIDs = prevIDs
	g.minMcRef = minMcRef
	postponed := g.postponed
	g.postponed = nil
	g.mu.Unlock()

	metrics.ActiveValidatorGroups.Inc()
	for _, args := range postponed {
		if err := g.OnBlockCommitted(context.Background(), args); err != nil {
			log.WithFields(map[string]interface{}{"round": args.Round, "err": err}).Error("replay of postponed accept failed")
		}
	}
}

// Destroy defers catchain teardown by destroyDelay so late peer signatures
// still land. onTeardown is invoked once the delay elapses.
func (g *Group) Destroy(onTeardown func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.destroyTimer != nil {
		return
	}
	g.destroyTimer = time.AfterFunc(destroyDelay, func() {
		g.mu.Lock()
		g.destroyed = true
		g.mu.Unlock()
		metrics.ActiveValidatorGroups.Dec()
		if onTeardown != nil {
			onTeardown()
		}
	})
}

// OnGenerateSlot implements the session's on_generate_slot(round) callback:
// generate_block_candidate, served from a shared in-round cache.
func (g *Group) OnGenerateSlot(ctx context.Context, round uint32, creatorPubkey []byte, maxAnswerSize uint32, deadline time.Time) (*storage.Candidate, error) {
	ctx, span := trace.StartSpan(ctx, "group.GenerateBlockCandidate")
	defer span.End()

	g.mu.Lock()
	if e, ok := g.genCache[round]; ok {
		g.mu.Unlock()
		<-e.done
		return e.cand, e.err
	}
	e := &genCacheEntry{done: make(chan struct{})}
	g.genCache[round] = e
	prevIDs := append([]shardid.IDExt(nil), g.prevBlockIDs...)
	g.mu.Unlock()

	resp, err := g.collator.CollateBlock(ctx, g.shard.Workchain, g.shard.ShardPrefix, prevIDs, creatorPubkey, round, round, g.priority, maxAnswerSize, deadline)
	if err == nil {
		e.cand = &storage.Candidate{
			ID:           wireToID(resp.Id),
			Source:       to32(resp.SourcePubkey),
			CollatedHash: sha256.Sum256(resp.CollatedData),
			Data:         resp.Data,
			CollatedData: resp.CollatedData,
		}
		g.candidates.AddCandidateWithData(e.cand.ID, e.cand.Source, e.cand.CollatedHash, e.cand.Data)
	}
	e.err = err
	close(e.done)
	return e.cand, e.err
}

// OnCandidate implements the session's on_candidate callback:
// validate_block_candidate.
func (g *Group) OnCandidate(ctx context.Context, round uint32, source [32]byte, id shardid.IDExt, data, collated []byte) error {
	ctx, span := trace.StartSpan(ctx, "group.ValidateBlockCandidate")
	defer span.End()

	g.mu.Lock()
	if round < g.knownRound {
		g.mu.Unlock()
		return codes.New(codes.Cancelled, "candidate for stale round %d (known %d)", round, g.knownRound)
	}
	key := approvalKey{source: source, id: id, dataHash: sha256.Sum256(data), collatedHash: sha256.Sum256(collated)}
	if g.approvals[key] {
		g.mu.Unlock()
		return nil
	}
	vs := g.vs
	prevIDs := append([]shardid.IDExt(nil), g.prevBlockIDs...)
	g.mu.Unlock()

	g.candidates.AddCandidateWithData(id, source, key.collatedHash, data)

	cand := &storage.Candidate{ID: id, Source: source, CollatedHash: key.collatedHash, Data: data, CollatedData: collated}
	if err := g.validator.ValidateQuery(ctx, round, prevIDs, cand, vs); err != nil {
		return err
	}

	g.mu.Lock()
	g.approvals[key] = true
	g.genUnixTime[round] = uint32(time.Now().Unix())
	g.mu.Unlock()
	return nil
}

// OnBlockCommitted implements the session's on_block_committed callback:
// accept_block_candidate. Before Start, calls are queued as postponed
// accepts and replayed in Start.
func (g *Group) OnBlockCommitted(ctx context.Context, args AcceptArgs) error {
	g.mu.Lock()
	if !g.started {
		g.postponed = append(g.postponed, args)
		g.mu.Unlock()
		return nil
	}
	prevLeft := g.lastID()
	g.mu.Unlock()

	ctx, span := trace.StartSpan(ctx, "group.AcceptBlockCandidate")
	defer span.End()

	nextID := shardid.IDExt{
		ID:       shardid.ID{Workchain: g.shard.Workchain, ShardPrefix: g.shard.ShardPrefix, Seqno: prevLeft.Seqno + 1},
		RootHash: args.RootHash,
		FileHash: args.FileHash,
	}

	h, ok, err := g.store.GetBlockHandle(nextID)
	if err != nil {
		return codes.Wrap(codes.DBError, err, "get block handle %s", nextID)
	}
	if !ok {
		h = handle.NewFromID(nextID)
		if err := g.store.StoreBlockHandle(h); err != nil {
			return codes.Wrap(codes.DBError, err, "store block handle %s", nextID)
		}
	}
	if args.Sigs != nil {
		if err := g.store.StoreBlockSignatures(h, args.Sigs); err != nil {
			return codes.Wrap(codes.DBError, err, "store block signatures %s", nextID)
		}
		h.SetInitedSignatures()
	}

	sigCnt, approveCnt := 0, 0
	if args.Sigs != nil {
		sigCnt = len(args.Sigs.Signatures)
	}
	if args.ApproveSigs != nil {
		approveCnt = len(args.ApproveSigs.Signatures)
	}
	g.NewBlock.Send(BlockStats{Round: args.Round, ID: nextID, SigCnt: sigCnt, ApproveSigCnt: approveCnt})

	if err := g.applier.Apply(ctx, nextID, args.Data, g.minMcRef, time.Time{}); err != nil {
		return err
	}

	g.mu.Lock()
	g.prevBlockIDs = []shardid.IDExt{nextID}
	delete(g.genCache, args.Round)
	g.knownRound = args.Round + 1
	g.mu.Unlock()
	return nil
}

// OnBlockSkipped implements the session's on_block_skipped callback.
func (g *Group) OnBlockSkipped(round uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if round >= g.knownRound {
		g.knownRound = round + 1
	}
}

func (g *Group) lastID() shardid.ID {
	if len(g.prevBlockIDs) == 0 {
		return shardid.ID{Workchain: g.shard.Workchain, ShardPrefix: g.shard.ShardPrefix}
	}
	return g.prevBlockIDs[0].ID
}

func wireToID(id *collatorpb.BlockIdExt) shardid.IDExt {
	if id == nil {
		return shardid.IDExt{}
	}
	return shardid.IDExt{
		ID:       shardid.ID{Workchain: id.Workchain, ShardPrefix: id.ShardPrefix, Seqno: id.Seqno},
		RootHash: to32(id.RootHash),
		FileHash: to32(id.FileHash),
	}
}

func to32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}
