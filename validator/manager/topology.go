package manager

import "github.com/shardnet/shardvalidator/validator/shardid"

// Topology is the Validator Manager's view of the current master tip's
// shard configuration: enough to diff active validator groups and discover
// which shards the local node must validate (spec.md §4.10).
type Topology interface {
	shardid.ShardConfig

	// Shards lists every in-config shard prefix at this tip.
	Shards() []uint64

	// Workchain returns the workchain a configured shard prefix belongs to,
	// distinguishing the master shard (shardid.MasterchainWorkchain) from a
	// basechain shard sharing the same numeric prefix.
	Workchain(shardPrefix uint64) int32

	// ValidatorSet resolves the validator set for (shardPrefix, catchainSeqno).
	ValidatorSet(shardPrefix uint64, catchainSeqno uint32) (*shardid.ValidatorSet, error)

	// IsLocalValidator reports whether the local node is a member of vs.
	IsLocalValidator(vs *shardid.ValidatorSet) bool

	// ConfigHash fingerprints the masterchain config in force at this tip.
	ConfigHash() [32]byte

	// LastKeyBlockSeqno is the seqno of the most recent key block known to
	// this tip's state.
	LastKeyBlockSeqno() uint32
}
