package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted, by type",
		},
		[]string{"type"},
	)

	idempotentReplaysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_idempotent_replays_total",
			Help: "Sends answered from the idempotency cache",
		},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_message_send_duration_seconds",
			Help:    "Time from accepting a send to persisting it",
			Buckets: prometheus.DefBuckets,
		},
	)

	pushDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_push_deliveries_total",
			Help: "Push attempts by outcome",
		},
		[]string{"status"},
	)

	membershipChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_membership_changes_total",
			Help: "Membership operations, by action",
		},
		[]string{"action"},
	)

	reactionTogglesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_reaction_toggles_total",
			Help: "Reaction toggles, by direction",
		},
		[]string{"direction"},
	)
)
