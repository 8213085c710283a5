package xmpp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStanzasIn = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluux_agent",
		Subsystem: "xmpp",
		Name:      "stanzas_in_total",
		Help:      "Inbound stanzas parsed from the stream.",
	})
	metricStanzasOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluux_agent",
		Subsystem: "xmpp",
		Name:      "stanzas_out_total",
		Help:      "Outbound stanzas written to the stream.",
	})
	metricDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluux_agent",
		Subsystem: "xmpp",
		Name:      "stanzas_dropped_total",
		Help:      "Inbound stanzas dropped by the admission filters.",
	})
	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluux_agent",
		Subsystem: "xmpp",
		Name:      "connections_total",
		Help:      "Sessions successfully established.",
	})
)
