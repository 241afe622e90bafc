package leads

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadconsole",
		Subsystem: "sync",
		Name:      "refresh_total",
		Help:      "Refresh attempts per view and outcome.",
	}, []string{"view", "outcome"})

	refreshCollapsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadconsole",
		Subsystem: "sync",
		Name:      "refresh_collapsed_total",
		Help:      "Refresh requests absorbed into an already in-flight call.",
	}, []string{"view"})

	sendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadconsole",
		Subsystem: "outreach",
		Name:      "send_total",
		Help:      "Outreach send attempts by outcome.",
	}, []string{"outcome"})

	snapshotSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "leadconsole",
		Subsystem: "sync",
		Name:      "snapshot_leads",
		Help:      "Number of leads in the current snapshot per view.",
	}, []string{"view"})
)
