// Copyright (C) Edgeworks.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sparkplughost",
		Name:      "messages_processed_total",
		Help:      "Sparkplug B messages processed, by action.",
	}, []string{"action"})

	rebirthsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sparkplughost",
		Name:      "rebirths_emitted_total",
		Help:      "Rebirth (NCMD) requests published.",
	})

	storeWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sparkplughost",
		Name:      "store_write_seconds",
		Help:      "Latency of Store writes triggered by message handling.",
	})

	brokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sparkplughost",
		Name:      "broker_connected",
		Help:      "1 if connected to the MQTT broker, 0 otherwise.",
	})
)
