package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_connections",
			Help: "Open socket connections in this process",
		},
	)

	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_rejections_total",
			Help: "Socket connections refused by the gatekeeper",
		},
		[]string{"reason"},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Inbound socket events by type and outcome",
		},
		[]string{"event", "outcome"},
	)

	droppedFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_dropped_frames_total",
			Help: "Frames dropped because a queue was full",
		},
		[]string{"direction"},
	)

	counterCorrectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_counter_corrections_total",
			Help: "Users whose connection count was corrected by the sweep",
		},
	)

	presenceUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_presence_updates_total",
			Help: "Presence transitions broadcast",
		},
		[]string{"status"},
	)

	presenceCoalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_presence_coalesced_total",
			Help: "Debounced presence changes that ended where they started",
		},
	)

	typingExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_typing_expired_total",
			Help: "Typing indicators ended by the expiry timer",
		},
	)

	busFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_bus_failures_total",
			Help: "Cross-process bus errors",
		},
		[]string{"op"},
	)
)
