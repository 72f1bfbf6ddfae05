package shardid

import "crypto/sha256"

// ExternalMessage is a message submitted from outside the shard, addressed to
// a destination account by workchain/address.
type ExternalMessage struct {
	Workchain int32
	Address   [32]byte
	Body      []byte
}

// Hash is the content hash of the message, used as its primary identity.
func (m *ExternalMessage) Hash() [32]byte {
	return sha256.Sum256(m.Body)
}

// MessageID is the destination-prefixed identity used to order messages for
// shard lookup: `(dst, hash)`.
type MessageID struct {
	Dst  uint64
	Hash [32]byte
}

// ID computes the MessageID for m.
func (m *ExternalMessage) ID() MessageID {
	return MessageID{Dst: AccountPrefix(m.Address), Hash: m.Hash()}
}
