package group

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/shardnet/shardvalidator/validator/params"
	"github.com/shardnet/shardvalidator/validator/shardid"
)

// Member is one consensus-session participant, named by adnl id and weight
// (spec.md §4.9's session-id fingerprint ingredients).
type Member struct {
	AdnlID [32]byte
	Weight uint64
}

// Config names the inputs to a session-id fingerprint: everything that must
// match for two nodes to agree they are running the same consensus session.
type Config struct {
	Shard             shardid.ID
	CatchainSeqno     uint32
	ConfigHash        [32]byte
	VerticalSeqno     uint32
	LastKeyBlockSeqno uint32
	Members           []Member
}

// SessionID is the fingerprint identifying one Validator Group.
type SessionID [32]byte

// ComputeSessionID hashes cfg's fields in a fixed order. When
// opts.UnsafeCatchainRotate is set, opts.UnsafeRotateSalt is folded in last
// so that recovery from a catchain rotation still reaches the same id as
// peers who applied the same salt (spec.md §9 Open Questions).
func ComputeSessionID(cfg Config, opts *params.Options) SessionID {
	h := sha256.New()
	var buf [8]byte

	binary.BigEndian.PutUint32(buf[:4], uint32(cfg.Shard.Workchain))
	h.Write(buf[:4])
	binary.BigEndian.PutUint64(buf[:], cfg.Shard.ShardPrefix)
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:4], cfg.CatchainSeqno)
	h.Write(buf[:4])
	h.Write(cfg.ConfigHash[:])
	binary.BigEndian.PutUint32(buf[:4], cfg.VerticalSeqno)
	h.Write(buf[:4])
	binary.BigEndian.PutUint32(buf[:4], cfg.LastKeyBlockSeqno)
	h.Write(buf[:4])
	for _, m := range cfg.Members {
		h.Write(m.AdnlID[:])
		binary.BigEndian.PutUint64(buf[:], m.Weight)
		h.Write(buf[:])
	}
	if opts != nil && opts.UnsafeCatchainRotate {
		h.Write(opts.UnsafeRotateSalt[:])
	}

	var out SessionID
	copy(out[:], h.Sum(nil))
	return out
}
