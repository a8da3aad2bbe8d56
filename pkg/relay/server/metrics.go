package server

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	slotsAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wormhole",
			Subsystem: "relay",
			Name:      "slots_allocated_total",
			Help:      "Slots handed out to initiating peers.",
		},
	)
	slotsPaired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wormhole",
			Subsystem: "relay",
			Name:      "slots_paired_total",
			Help:      "Slots joined by a second peer.",
		},
	)
	slotsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wormhole",
			Subsystem: "relay",
			Name:      "slots_active",
			Help:      "Slots currently waiting or paired.",
		},
	)
	sessionCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wormhole",
			Subsystem: "relay",
			Name:      "closes_total",
			Help:      "Websocket sessions closed by the relay, by close code.",
		},
		[]string{"code"},
	)
	messagesRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wormhole",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Messages forwarded between peers.",
		},
		[]string{"direction"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(slotsAllocated, slotsPaired, slotsActive, sessionCloses, messagesRelayed)
	})
}

func recordAllocated() {
	RegisterMetrics()
	slotsAllocated.Inc()
	slotsActive.Inc()
}

func recordReleased() {
	RegisterMetrics()
	slotsActive.Dec()
}

func recordPaired() {
	RegisterMetrics()
	slotsPaired.Inc()
}

func recordClose(code int) {
	RegisterMetrics()
	sessionCloses.WithLabelValues(strconv.Itoa(code)).Inc()
}

func recordMessage(direction string) {
	RegisterMetrics()
	messagesRelayed.WithLabelValues(direction).Inc()
}
