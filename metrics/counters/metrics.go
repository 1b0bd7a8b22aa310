package counters

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var activeSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "ota",
	Name:      "sessions_active",
	Help:      "Number of update sessions in a non-terminal state",
})

var blockCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ota",
	Name:      "blocks_served_total",
	Help:      "Total number of firmware blocks served.",
}, []string{"node_id"})

var messageCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "messages_total",
	Help:      "Total number of gateway frames by direction.",
}, []string{"direction"})

var droppedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "messages_dropped_total",
	Help:      "Total number of inbound frames dropped before handling.",
}, []string{"reason"})

var uploadCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "firmware",
	Name:      "uploads_total",
	Help:      "Total number of firmware images uploaded.",
})

var nodesGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "registry",
	Name:      "nodes_known",
	Help:      "Number of nodes seen on the network",
})

func ObserveActiveSessions(count int) {
	activeSessionsGauge.Set(float64(count))
}

func ObserveBlockServed(nodeId string) {
	if len(nodeId) == 0 {
		return
	}
	blockCounter.With(prometheus.Labels{"node_id": nodeId}).Inc()
}

func CountMessage(direction string) {
	if len(direction) == 0 {
		return
	}
	messageCounter.With(prometheus.Labels{"direction": direction}).Inc()
}

func CountDropped(reason string) {
	if len(reason) == 0 {
		return
	}
	droppedCounter.With(prometheus.Labels{"reason": reason}).Inc()
}

func CountUpload() {
	uploadCounter.Inc()
}

func ObserveNodes(count int) {
	nodesGauge.Set(float64(count))
}
