// Package metrics defines the Prometheus collectors of the backend,
// registered on a private registry exposed by the image HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// EventsRouted counts events fanned out by the broker, per variant.
	EventsRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlink_bus_events_routed_total",
			Help: "Total number of events routed by the broker.",
		},
		[]string{"event"},
	)

	// EventsDropped counts events dropped because a runner channel was full.
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlink_bus_events_dropped_total",
			Help: "Total number of events dropped per runner.",
		},
		[]string{"runner"},
	)

	// MqttMessages counts MQTT adapter traffic by direction and channel.
	MqttMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlink_mqtt_messages_total",
			Help: "Total number of MQTT messages handled by the adapter.",
		},
		[]string{"direction", "channel"},
	)

	// OtaRequests counts device OTA requests by command and outcome.
	OtaRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlink_ota_requests_total",
			Help: "Total number of device OTA requests processed.",
		},
		[]string{"cmd", "result"},
	)

	// ImagesStored tracks the number of packages in the catalog.
	ImagesStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devlink_ota_images_stored",
			Help: "Number of firmware packages currently stored.",
		},
	)

	// AdminSessions is 1 while an operator session holds the single slot.
	AdminSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devlink_admin_sessions_active",
			Help: "Number of active admin WebSocket sessions (0 or 1).",
		},
	)
)

// Registry is the process-wide metrics registry.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		EventsRouted,
		EventsDropped,
		MqttMessages,
		OtaRequests,
		ImagesStored,
		AdminSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
