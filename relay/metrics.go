// Copyright 2025 JC-Lab
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-FEL

package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every counter/gauge the Router and connection handlers
// update. A nil *Metrics disables instrumentation entirely; every call
// site nil-checks before touching it.
type Metrics struct {
	ClientsAdmitted     prometheus.Gauge
	GroupsGauge         prometheus.Gauge
	ConsumablesProduced prometheus.Counter
	BroadcastsTotal     prometheus.Counter
	DispatchTotal       prometheus.Counter
	QueueDepth          *prometheus.GaugeVec
	ClientsOverflowed   prometheus.Counter
}

// NewMetrics builds and registers a Metrics set against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer-backed reg for a process exposing /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ClientsAdmitted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaycast",
			Subsystem: "relay",
			Name:      "clients_connected",
			Help:      "Number of currently admitted client connections.",
		}),
		GroupsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaycast",
			Subsystem: "relay",
			Name:      "groups_total",
			Help:      "Number of groups created since startup.",
		}),
		ConsumablesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaycast",
			Subsystem: "relay",
			Name:      "consumables_produced_total",
			Help:      "Consumable payloads enqueued across all groups.",
		}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaycast",
			Subsystem: "relay",
			Name:      "broadcasts_total",
			Help:      "Broadcast sends processed across all groups.",
		}),
		DispatchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaycast",
			Subsystem: "relay",
			Name:      "dispatch_total",
			Help:      "Consumable deliveries made by dispatch.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relaycast",
			Subsystem: "relay",
			Name:      "consumable_queue_depth",
			Help:      "Current consumable queue depth per group.",
		}, []string{"group"}),
		ClientsOverflowed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaycast",
			Subsystem: "relay",
			Name:      "clients_overflowed_total",
			Help:      "Clients disconnected because their outbox filled up faster than their socket could drain it.",
		}),
	}
	reg.MustRegister(m.ClientsAdmitted, m.GroupsGauge, m.ConsumablesProduced, m.BroadcastsTotal, m.DispatchTotal, m.QueueDepth, m.ClientsOverflowed)
	return m
}
