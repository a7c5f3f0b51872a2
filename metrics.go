// Copyright 2024 The proxygen-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package proxygen

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the sample server. A nil
// *Metrics is valid and records nothing, so the library can run without a
// registry wired in.
type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	streamedBytes      prometheus.Counter
	streamedChunks     prometheus.Counter
	egressPausesTotal  prometheus.Counter
	activeTransactions prometheus.Gauge
	waitingHandlers    prometheus.Gauge
}

// NewMetrics registers the sample-server collectors with reg and returns
// the handle the Mux and handlers report through.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hqserver",
				Name:      "requests_total",
				Help:      "Requests served, by handler and response status.",
			},
			[]string{"handler", "status"},
		),
		streamedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hqserver",
				Name:      "streamed_bytes_total",
				Help:      "Response body bytes produced by the streaming responder.",
			},
		),
		streamedChunks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hqserver",
				Name:      "streamed_chunks_total",
				Help:      "Chunks produced by the streaming responder.",
			},
		),
		egressPausesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hqserver",
				Name:      "egress_pauses_total",
				Help:      "Times the transport paused a streaming job.",
			},
		),
		activeTransactions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hqserver",
				Name:      "active_transactions",
				Help:      "Transactions currently in flight.",
			},
		),
		waitingHandlers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hqserver",
				Name:      "waiting_handlers",
				Help:      "Wait handlers parked until a matching release arrives.",
			},
		),
	}
}

func (m *Metrics) requestServed(handler string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(handler, strconv.Itoa(status)).Inc()
}

func (m *Metrics) chunkEmitted(bytes uint64) {
	if m == nil {
		return
	}
	m.streamedChunks.Inc()
	m.streamedBytes.Add(float64(bytes))
}

func (m *Metrics) egressPaused() {
	if m == nil {
		return
	}
	m.egressPausesTotal.Inc()
}

func (m *Metrics) transactionStarted() {
	if m == nil {
		return
	}
	m.activeTransactions.Inc()
}

func (m *Metrics) transactionFinished() {
	if m == nil {
		return
	}
	m.activeTransactions.Dec()
}

func (m *Metrics) handlerParked() {
	if m == nil {
		return
	}
	m.waitingHandlers.Inc()
}

func (m *Metrics) handlerUnparked() {
	if m == nil {
		return
	}
	m.waitingHandlers.Dec()
}
