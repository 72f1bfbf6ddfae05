package shardid

// TopShardBlockDescription is a gossiped claim that a shard's top block has
// advanced, possibly via split or merge.
type TopShardBlockDescription struct {
	BlockID         IDExt
	AfterSplit      bool
	AfterMerge      bool
	BeforeSplit     bool
	CatchainSeqno   uint32
	ValidatorSetHash [32]byte
	Signatures      SignatureSet
}

// ShardFSM describes the pending split/merge status a master shard
// configuration assigns to one of its shards.
type ShardFSM int

const (
	// ShardFSMNone indicates no pending split/merge for the shard.
	ShardFSMNone ShardFSM = iota
	// ShardFSMSplit indicates the shard is scheduled to split.
	ShardFSMSplit
	// ShardFSMMerge indicates the shard is scheduled to merge with its sibling.
	ShardFSMMerge
)

// ShardTopInfo is the master tip's view of one shard's current top block and
// FSM state, the minimal surface ShardConfig must expose for
// TopShardBlockDescription validation.
type ShardTopInfo struct {
	Shard         uint64
	TopSeqno      uint32
	FSM           ShardFSM
	CatchainSeqno uint32
}

// ShardConfig is the view of the master tip's shard configuration needed to
// validate a TopShardBlockDescription; it is implemented by the masterchain
// state held by the Validator Manager.
type ShardConfig interface {
	// ShardInfo returns the current top-block info for the shard owning the
	// given prefix (the unique in-config shard that intersects it), or false
	// if no such shard exists.
	ShardInfo(shardPrefix uint64) (ShardTopInfo, bool)
}

// MayBeValid implements spec.md §4.8's may_be_valid predicate: a description
// is potentially valid with respect to the current master tip's shard
// configuration iff one of the no-split/no-merge, after-split or after-merge
// cases below holds and the claimed catchain seqno matches.
func MayBeValid(d *TopShardBlockDescription, cfg ShardConfig) bool {
	shard := d.BlockID.ShardPrefix
	switch {
	case !d.AfterSplit && !d.AfterMerge:
		info, ok := cfg.ShardInfo(shard)
		if !ok || info.Shard != shard {
			return false
		}
		if info.FSM != ShardFSMNone {
			return false
		}
		if d.BlockID.Seqno <= info.TopSeqno {
			return false
		}
		return info.CatchainSeqno == d.CatchainSeqno

	case d.AfterSplit && !d.AfterMerge:
		parent := ShardParent(shard)
		info, ok := cfg.ShardInfo(parent)
		if !ok || info.Shard != parent {
			return false
		}
		if info.FSM != ShardFSMSplit {
			return false
		}
		if info.TopSeqno+1 != d.BlockID.Seqno {
			return false
		}
		return info.CatchainSeqno == d.CatchainSeqno

	case d.AfterMerge && !d.AfterSplit:
		left := ShardChild(shard, true)
		right := ShardChild(shard, false)
		li, lok := cfg.ShardInfo(left)
		ri, rok := cfg.ShardInfo(right)
		if !lok || !rok || li.Shard != left || ri.Shard != right {
			return false
		}
		if li.FSM != ShardFSMMerge || ri.FSM != ShardFSMMerge {
			return false
		}
		maxTop := li.TopSeqno
		if ri.TopSeqno > maxTop {
			maxTop = ri.TopSeqno
		}
		if maxTop+1 != d.BlockID.Seqno {
			return false
		}
		return li.CatchainSeqno == d.CatchainSeqno

	default:
		// after_split and after_merge simultaneously is structurally invalid.
		return false
	}
}
