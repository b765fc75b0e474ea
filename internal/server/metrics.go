// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// metrics carries the server's Prometheus instruments on a private
// registry, so repeated Server construction in tests never collides.
type metrics struct {
	registry      *prometheus.Registry
	connections   prometheus.Gauge
	messagesTotal *prometheus.CounterVec
	routeDuration prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hive_ws_connections",
			Help: "Currently connected WebSocket clients.",
		}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hive_ws_messages_total",
			Help: "Client messages received, by message kind.",
		}, []string{"kind"}),
		routeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hive_route_duration_seconds",
			Help:    "Time spent routing one user message, including tool and LLM calls.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	m.registry.MustRegister(m.connections, m.messagesTotal, m.routeDuration)
	m.registry.MustRegister(collectors.NewGoCollector())
	return m
}
