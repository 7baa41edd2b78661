package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "songquiz"

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Inbound commands handled by the session, by command and outcome.",
	}, []string{"command", "outcome"})

	effectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "effects_total",
		Help:      "Outbound events dispatched, by event and target.",
	}, []string{"event", "target"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Websocket frames dropped before reaching the session.",
	}, []string{"reason"})

	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connected_clients",
		Help:      "Open websocket connections.",
	})

	pointsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "points_awarded_total",
		Help:      "Points awarded for correct answers.",
	})
)

func ObserveCommand(command, outcome string) {
	commandsTotal.WithLabelValues(command, outcome).Inc()
}

func ObserveEffect(event, target string) {
	effectsTotal.WithLabelValues(event, target).Inc()
}

func ObserveDroppedFrame(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

func ClientConnected() { connectedClients.Inc() }

func ClientDisconnected() { connectedClients.Dec() }

func ObserveAward(points int) {
	pointsAwarded.Add(float64(points))
}
