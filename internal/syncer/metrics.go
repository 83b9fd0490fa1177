package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bhyve_polls_total",
		Help: "Full refresh attempts by result.",
	}, []string{"result"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bhyve_events_total",
		Help: "Push events received by kind.",
	}, []string{"event"})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bhyve_stream_reconnects_total",
		Help: "Websocket reconnect attempts.",
	})

	snapshotRevision = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bhyve_snapshot_revision",
		Help: "Current snapshot revision counter.",
	})
)
