package waitfor

import (
	"fmt"

	"github.com/shardnet/shardvalidator/validator/shardid"
)

// Key constructors for the wait-for kinds named in spec.md §4.2.

func DataKey(id shardid.IDExt) string { return fmt.Sprintf("data:%s", id) }

func StateKey(id shardid.IDExt) string { return fmt.Sprintf("state:%s", id) }

func ProofKey(id shardid.IDExt) string { return fmt.Sprintf("proof:%s", id) }

func ProofLinkKey(id shardid.IDExt) string { return fmt.Sprintf("prooflink:%s", id) }

func SignaturesKey(id shardid.IDExt) string { return fmt.Sprintf("sigs:%s", id) }

func MessageQueueKey(id shardid.IDExt) string { return fmt.Sprintf("mq:%s", id) }

// MergeKey identifies the composite "state(L) ⊕ state(R)" wait.
func MergeKey(left, right shardid.IDExt) string {
	return fmt.Sprintf("merge:%s+%s", left, right)
}

// PrevStateKey identifies the "previous state of block id" composite wait.
func PrevStateKey(id shardid.IDExt) string { return fmt.Sprintf("prevstate:%s", id) }
