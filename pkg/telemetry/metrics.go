package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the event pipeline and the signal surface. Registered on
// the default registry and served by the /metrics endpoint.
var (
	SummaryEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_summary_events_total",
		Help: "Remote chat-summary change events ingested, by origin.",
	}, []string{"origin"}) // self | peer

	ListRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_list_refreshes_total",
		Help: "Chat-list refresh signals emitted to the UI layer.",
	})

	CoalescedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_coalesced_events_total",
		Help: "Peer events folded into a pending emission instead of refreshing immediately.",
	})

	Notifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_notifications_total",
		Help: "Notification payloads produced (unthrottled path).",
	})

	Restorations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_restorations_total",
		Help: "Hidden chats restored by fresh remote activity.",
	})

	ActiveWatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_active_watches",
		Help: "Restoration watches currently subscribed.",
	})

	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_event_queue_dropped_total",
		Help: "Events dropped by the bounded ingest queue.",
	})
)
