// Package metrics holds the process-wide named counters exposed by the
// validator core (spec.md §9 "No hidden globals"): a small, explicitly
// initialised observability bus rather than ambient global state.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// HandlesFlushed counts Block Handle flushes actually written to storage.
	HandlesFlushed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "validator_handles_flushed_total",
		Help: "Number of block handle flushes written to storage.",
	})

	// ApplyBlockDuration observes the wall-clock cost of one ApplyBlock call.
	ApplyBlockDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "validator_apply_block_duration_seconds",
		Help: "Duration of ApplyBlock orchestrations.",
	})

	// WaitForActiveQueries is the number of in-flight wait-for registry keys.
	WaitForActiveQueries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_waitfor_active_queries",
		Help: "Number of distinct wait-for keys currently in flight.",
	})

	// CollationsRouted counts collate_block calls by outcome.
	CollationsRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validator_collations_routed_total",
		Help: "Number of collate_block routings, labeled by outcome.",
	}, []string{"outcome"})

	// ExtMessagesRejected counts external message admission rejections by reason.
	ExtMessagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "validator_ext_messages_rejected_total",
		Help: "Number of external messages rejected at admission, labeled by reason.",
	}, []string{"reason"})

	// ActiveValidatorGroups is the current number of running validator groups.
	ActiveValidatorGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_groups_active",
		Help: "Number of currently active validator groups.",
	})

	// MasterchainTipSeqno is the seqno of the masterchain block the manager
	// currently considers its applied tip.
	MasterchainTipSeqno = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_masterchain_tip_seqno",
		Help: "Seqno of the current applied masterchain tip.",
	})

	// PendingMasterchainTips is the number of out-of-order masterchain tips
	// buffered ahead of the next expected seqno.
	PendingMasterchainTips = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_pending_masterchain_tips",
		Help: "Number of masterchain tips buffered ahead of the expected next seqno.",
	})

	// ValidatorGroupsCarriedOver counts diff-apply cycles where a next-group
	// was promoted to active by fingerprint match instead of built fresh.
	ValidatorGroupsCarriedOver = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "validator_groups_carried_over_total",
		Help: "Number of validator groups promoted from next to active by fingerprint match.",
	})
)

func init() {
	prometheus.MustRegister(
		HandlesFlushed,
		ApplyBlockDuration,
		WaitForActiveQueries,
		CollationsRouted,
		ExtMessagesRejected,
		ActiveValidatorGroups,
		MasterchainTipSeqno,
		PendingMasterchainTips,
		ValidatorGroupsCarriedOver,
	)
}
