// Package extmsgpool implements the External-Message Pool (spec.md §4.7):
// an admission-controlled mempool of external messages with a per-address
// quota, a single rolling per-address rate window, and an active/postponed
// lifecycle, grounded on original_source/validator/impl/ext-message-pool.hpp.
// Priority orders delivery to collators and decides which duplicate is kept;
// there is no per-priority quota.
package extmsgpool

import (
	"math/rand"
	"sync"
	"time"

	"github.com/kevinms/leakybucket-go"
	"github.com/paulbellamy/ratecounter"

	"github.com/shardnet/shardvalidator/validator/codes"
	"github.com/shardnet/shardvalidator/validator/metrics"
	"github.com/shardnet/shardvalidator/validator/params"
	"github.com/shardnet/shardvalidator/validator/shardid"
)

// Constants carried verbatim from original_source/validator/impl/ext-message-pool.hpp.
const (
	// MaxExtMsgPerAddrTimeWindow bounds the rolling window over which
	// MaxExtMsgPerAddr is enforced.
	MaxExtMsgPerAddrTimeWindow = 10 * time.Second
	// MaxExtMsgPerAddr is the admission ceiling per (workchain, address)
	// within MaxExtMsgPerAddrTimeWindow.
	MaxExtMsgPerAddr = 30
	// PerAddressLimit bounds the number of pooled (not-yet-collated)
	// messages retained per address regardless of admission rate.
	PerAddressLimit = 256
	// maxPostpones is the highest generation at which Complete still
	// postpones a message (original: "generation <= 2"): generations 0..2 are
	// postponed, the first with a zero delay, and a later generation is dropped.
	maxPostpones = 2
	// postponeUnit is the "generation * 5s" postpone delay unit.
	postponeUnit = 5 * time.Second
	// messageTTL matches the original's fixed 600s delete_at_ deadline.
	messageTTL = 600 * time.Second
)

// Checker is the injected collaborator that parses and preliminarily
// validates a raw external message (spec.md §4.7 "delegated to a
// CheckExternalMessage collaborator").
type Checker interface {
	CheckExternalMessage(data []byte) (*shardid.ExternalMessage, error)
}

type addrKey struct {
	workchain int32
	prefix    uint64
}

func addrKeyOf(msg *shardid.ExternalMessage) addrKey {
	return addrKey{workchain: msg.Workchain, prefix: shardid.AccountPrefix(msg.Address)}
}

type pooledMessage struct {
	msg        *shardid.ExternalMessage
	priority   int
	hash       [32]byte
	id         shardid.MessageID
	active     bool
	generation uint32
	reactivateAt time.Time
	deleteAt   time.Time
}

func (m *pooledMessage) isActive(now time.Time) bool {
	if !m.active && now.After(m.reactivateAt) {
		m.active = true
		m.generation++
	}
	return m.active
}

func (m *pooledMessage) canPostpone() bool { return m.generation <= maxPostpones }

func (m *pooledMessage) postpone(now time.Time) {
	if !m.active {
		return
	}
	m.active = false
	m.reactivateAt = now.Add(time.Duration(m.generation) * postponeUnit)
}

func (m *pooledMessage) expired(now time.Time) bool { return now.After(m.deleteAt) }

// Pool is the goroutine-safe external-message mempool.
type Pool struct {
	opts    *params.Options
	checker Checker

	mu       sync.Mutex
	byHash   map[[32]byte]*pooledMessage
	byAddr   map[addrKey]map[[32]byte]struct{}
	rateCur  map[addrKey]*ratecounter.RateCounter
	admission *leakybucket.Collector

	totalOK, totalErr uint64
}

// New constructs an empty pool. opts.MaxMempoolNum governs the leaky-bucket
// admission ceiling; checker performs the structural/semantic pre-check on
// each submitted message.
func New(opts *params.Options, checker Checker) *Pool {
	cap := opts.MaxMempoolNum
	if cap <= 0 {
		cap = 1
	}
	return &Pool{
		opts:    opts,
		checker: checker,
		byHash:  make(map[[32]byte]*pooledMessage),
		byAddr:  make(map[addrKey]map[[32]byte]struct{}),
		rateCur: make(map[addrKey]*ratecounter.RateCounter),
		// One token per message, replenished at the mempool's soft-cap rate
		// per second so the pool can refill as entries are completed.
		admission: leakybucket.NewCollector(float64(cap), int64(cap), true),
	}
}

// CheckAdd parses and preliminarily checks data, conditionally stores the
// resulting message, and returns it (or a typed error) per spec.md §4.7.
func (p *Pool) CheckAdd(data []byte, priority int, addToMempool bool) (*shardid.ExternalMessage, error) {
	msg, err := p.checker.CheckExternalMessage(data)
	if err != nil {
		p.mu.Lock()
		p.totalErr++
		p.mu.Unlock()
		metrics.ExtMessagesRejected.WithLabelValues("check-failed").Inc()
		return nil, codes.Wrap(codes.ProtoViolation, err, "external message failed preliminary check")
	}

	ak := addrKeyOf(msg)
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	rc, ok := p.rateCur[ak]
	if !ok {
		rc = ratecounter.NewRateCounter(MaxExtMsgPerAddrTimeWindow)
		p.rateCur[ak] = rc
	}
	if rc.Rate() >= MaxExtMsgPerAddr {
		metrics.ExtMessagesRejected.WithLabelValues("rate-limit").Inc()
		return nil, codes.New(codes.ProtoViolation, "too many external messages to address %d:%x", msg.Workchain, msg.Address)
	}

	if !addToMempool {
		p.totalOK++
		return msg, nil
	}

	if len(p.byAddr[ak]) >= PerAddressLimit {
		metrics.ExtMessagesRejected.WithLabelValues("per-address-cap").Inc()
		return nil, codes.New(codes.ProtoViolation, "per-address mempool cap exceeded for %d:%x", msg.Workchain, msg.Address)
	}

	hash := msg.Hash()
	if existing, dup := p.byHash[hash]; dup {
		if priority > existing.priority {
			p.removeLocked(hash)
		} else {
			p.totalOK++
			return msg, nil
		}
	} else if p.admission.Add("mempool", 1) == 0 {
		metrics.ExtMessagesRejected.WithLabelValues("mempool-full").Inc()
		return nil, codes.New(codes.NotReady, "external message mempool is at capacity")
	}

	rc.Incr(1)

	pm := &pooledMessage{
		msg:      msg,
		priority: priority,
		hash:     hash,
		id:       msg.ID(),
		active:   true,
		deleteAt: now.Add(messageTTL),
	}
	p.byHash[hash] = pm
	if p.byAddr[ak] == nil {
		p.byAddr[ak] = make(map[[32]byte]struct{})
	}
	p.byAddr[ak][hash] = struct{}{}

	p.totalOK++
	return msg, nil
}

// removeLocked deletes the pooled message identified by hash. Caller must
// hold p.mu.
func (p *Pool) removeLocked(hash [32]byte) {
	pm, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	ak := addrKeyOf(pm.msg)
	delete(p.byAddr[ak], hash)
	if len(p.byAddr[ak]) == 0 {
		delete(p.byAddr, ak)
	}
}

// Ranked pairs a message with its admission priority for collator delivery.
type Ranked struct {
	Message  *shardid.ExternalMessage
	Priority int
}

// GetForCollator returns non-expired, active messages addressed to shard,
// shuffled within each priority class (spec.md §4.7).
func (p *Pool) GetForCollator(shardPrefix uint64) []Ranked {
	now := time.Now()

	p.mu.Lock()
	byPriority := make(map[int][]Ranked)
	for hash, pm := range p.byHash {
		if pm.expired(now) {
			p.removeLocked(hash)
			continue
		}
		if !pm.isActive(now) {
			continue
		}
		if !addressInShard(pm.msg, shardPrefix) {
			continue
		}
		byPriority[pm.priority] = append(byPriority[pm.priority], Ranked{Message: pm.msg, Priority: pm.priority})
	}
	p.mu.Unlock()

	priorities := make([]int, 0, len(byPriority))
	for pr := range byPriority {
		priorities = append(priorities, pr)
	}
	sortDesc(priorities)

	var out []Ranked
	for _, pr := range priorities {
		group := byPriority[pr]
		rand.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })
		out = append(out, group...)
	}
	return out
}

func addressInShard(msg *shardid.ExternalMessage, shardPrefix uint64) bool {
	return shardid.ShardIsAncestor(shardPrefix, shardid.AccountPrefix(msg.Address))
}

func sortDesc(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] < s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Complete removes toDelete outright and postpones toDelay, dropping any
// message that has exhausted its postpone budget.
func (p *Pool) Complete(toDelay, toDelete [][32]byte) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, h := range toDelete {
		p.removeLocked(h)
	}
	for _, h := range toDelay {
		pm, ok := p.byHash[h]
		if !ok {
			continue
		}
		if !pm.canPostpone() {
			p.removeLocked(h)
			continue
		}
		pm.postpone(now)
	}
}

// Cleanup evicts expired entries; intended to run off an alarm tick like the
// original's `alarm()` override.
func (p *Pool) Cleanup() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for hash, pm := range p.byHash {
		if pm.expired(now) {
			p.removeLocked(hash)
		}
	}
}

// Stats mirrors prepare_stats(): cumulative accept/reject counters.
func (p *Pool) Stats() (ok, failed uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalOK, p.totalErr
}
