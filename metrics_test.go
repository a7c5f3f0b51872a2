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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecording(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.chunkEmitted(100)
	metrics.chunkEmitted(50)
	metrics.egressPaused()
	metrics.requestServed("randbytes", 200)
	metrics.requestServed("randbytes", 400)
	metrics.transactionStarted()
	metrics.handlerParked()
	metrics.handlerUnparked()

	assert.Equal(t, float64(150), testutil.ToFloat64(metrics.streamedBytes))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.streamedChunks))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.egressPausesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("randbytes", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("randbytes", "400")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.activeTransactions))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.waitingHandlers))
}

func TestMetricsNilIsSafe(t *testing.T) {
	t.Parallel()
	var metrics *Metrics
	metrics.chunkEmitted(1)
	metrics.egressPaused()
	metrics.requestServed("echo", 200)
	metrics.transactionStarted()
	metrics.transactionFinished()
	metrics.handlerParked()
	metrics.handlerUnparked()
}

func TestMetricsEndToEnd(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	server := newTestServer(t, &Mux{Metrics: metrics})

	resp, body := get(t, server.URL+"/1000")
	require.Equal(t, 200, resp.StatusCode)
	require.Len(t, body, 1000)

	assert.Equal(t, float64(1000), testutil.ToFloat64(metrics.streamedBytes))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("randbytes", "200")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.activeTransactions))
}
