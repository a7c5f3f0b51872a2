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
	crand "crypto/rand"
	"encoding/hex"

	"go.uber.org/zap"
)

// bodyStreamer produces a response body of a fixed total length in bounded
// chunks, honoring transport backpressure. It is driven synchronously by
// its owner: emit runs until the job is drained or paused, pause stops
// output before the next chunk, and resume picks up from the exact
// remaining count. End-of-message is signalled exactly once, when the last
// chunk has been handed to the sink and the job is not paused.
//
// A streamer never blocks and never spawns goroutines; all state is
// private to the exchange that owns it.
type bodyStreamer struct {
	txn     Transaction
	pool    *bufferPool
	logger  *zap.Logger
	metrics *Metrics

	remaining uint64
	maxChunk  uint64
	paused    bool
	eomSent   bool

	scratch []byte // cached random source bytes, grown on demand
}

// newBodyStreamer establishes a job emitting length bytes. If length
// exceeds maxLength the job is rejected up front with a LengthLimitError
// and no output will ever be produced for it.
func newBodyStreamer(txn Transaction, pool *bufferPool, length, maxLength, maxChunk uint64, logger *zap.Logger, metrics *Metrics) (*bodyStreamer, error) {
	if length > maxLength {
		return nil, &LengthLimitError{Requested: length, Limit: maxLength}
	}
	return &bodyStreamer{
		txn:       txn,
		pool:      pool,
		logger:    logger,
		metrics:   metrics,
		remaining: length,
		maxChunk:  maxChunk,
	}, nil
}

// emit drains as much of the job as the transport will take. It is safe
// to call again after a resume or a redundant trigger: a finished job
// emits nothing and the end-of-message signal is never repeated. The
// paused flag is checked before every chunk so a pause raised by the sink
// mid-loop takes effect immediately.
func (s *bodyStreamer) emit() error {
	for s.remaining > 0 && !s.paused {
		chunkLen := min(s.maxChunk, s.remaining)
		s.logger.Debug("emitting chunk", zap.Uint64("bytes", chunkLen), zap.Uint64("remaining", s.remaining))
		if err := s.sendChunk(chunkLen); err != nil {
			return &SinkError{Cause: err}
		}
		s.remaining -= chunkLen
		s.metrics.chunkEmitted(chunkLen)
	}
	if s.remaining == 0 && !s.paused && !s.eomSent {
		s.logger.Debug("emitting EOM")
		s.eomSent = true
		s.txn.SendEOM()
	}
	return nil
}

// pause stops chunk production before the next emission step.
func (s *bodyStreamer) pause() {
	s.paused = true
	s.metrics.egressPaused()
}

// resume clears the paused flag and re-runs the emission loop. Resuming a
// job that is not paused is a no-op.
func (s *bodyStreamer) resume() error {
	if !s.paused {
		return nil
	}
	s.paused = false
	return s.emit()
}

func (s *bodyStreamer) done() bool {
	return s.eomSent
}

// sendChunk hands n bytes of hex-encoded randomness to the sink. The
// encoder consumes ceil(n/2) source bytes and the encoded output is
// truncated to exactly n.
func (s *bodyStreamer) sendChunk(n uint64) error {
	rawLen := int(n+1) / 2
	if len(s.scratch) < rawLen {
		s.scratch = make([]byte, rawLen)
		if _, err := crand.Read(s.scratch); err != nil {
			return err
		}
	}
	buf := s.pool.Get()
	defer s.pool.Put(buf)
	buf.Grow(hex.EncodedLen(rawLen))
	if _, err := hex.NewEncoder(buf).Write(s.scratch[:rawLen]); err != nil {
		return err
	}
	buf.Truncate(int(n))
	return s.txn.SendBody(buf.Bytes())
}
