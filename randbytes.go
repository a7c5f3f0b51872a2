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
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// RandBytesGenHandler answers a request for "/<n>" with exactly n bytes
// of generated body, streamed in bounded chunks through a bodyStreamer.
// Malformed or over-limit lengths are rejected with a 400 before any body
// output is produced.
type RandBytesGenHandler struct {
	baseHandler
	pool      *bufferPool
	metrics   *Metrics
	maxLength uint64
	maxChunk  uint64
	streamer  *bodyStreamer
}

// NewRandBytesGenHandler returns a random-bytes handler bounded by
// maxLength per response and maxChunk per emission step.
func NewRandBytesGenHandler(version string, maxLength, maxChunk uint64, pool *bufferPool, logger *zap.Logger, metrics *Metrics) *RandBytesGenHandler {
	return &RandBytesGenHandler{
		baseHandler: baseHandler{version: version, logger: logger},
		pool:        pool,
		metrics:     metrics,
		maxLength:   maxLength,
		maxChunk:    maxChunk,
	}
}

func (h *RandBytesGenHandler) OnHeadersComplete(msg *Message) {
	h.logger.Debug("randbytes: headers complete", zap.String("path", msg.Path))
	length, err := parseResponseLength(msg.Path)
	if err != nil {
		h.logger.Error("randbytes: bad request", zap.Error(err))
		h.sendError(err)
		return
	}
	streamer, err := newBodyStreamer(h.txn, h.pool, length, h.maxLength, h.maxChunk, h.logger, h.metrics)
	if err != nil {
		h.logger.Error("randbytes: rejected", zap.Error(err))
		h.sendError(err)
		return
	}
	h.streamer = streamer

	h.txn.SendHeaders(NewResponse(h.version, 200, "Ok"))
	if msg.Method == http.MethodGet {
		h.pumpBody()
	}
}

func (h *RandBytesGenHandler) OnBody([]byte) {
	h.logger.Debug("randbytes: body")
	if h.streamer != nil {
		h.pumpBody()
	}
}

func (h *RandBytesGenHandler) OnEOM() {
	h.logger.Debug("randbytes: EOM")
}

func (h *RandBytesGenHandler) OnError(err error) {
	h.logger.Debug("randbytes: error", zap.Error(err))
	h.txn.SendAbort()
}

func (h *RandBytesGenHandler) OnEgressPaused() {
	h.logger.Debug("randbytes: egress paused")
	if h.streamer != nil {
		h.streamer.pause()
	}
}

func (h *RandBytesGenHandler) OnEgressResumed() {
	h.logger.Debug("randbytes: egress resumed")
	if h.streamer == nil {
		return
	}
	if err := h.streamer.resume(); err != nil {
		h.logger.Warn("randbytes: resume failed", zap.Error(err))
		h.txn.SendAbort()
	}
}

func (h *RandBytesGenHandler) pumpBody() {
	if err := h.streamer.emit(); err != nil {
		h.logger.Warn("randbytes: emit failed", zap.Error(err))
		h.txn.SendAbort()
	}
}

// sendError reports a client error instead of an output stream. The job
// is terminal once this runs; no chunk has been produced.
func (h *RandBytesGenHandler) sendError(cause error) {
	resp := NewResponse(h.version, 400, "Bad Request")
	resp.StripPerHopHeaders()
	h.txn.SendHeaders(resp)
	if err := h.txn.SendBody([]byte(cause.Error())); err != nil {
		h.txn.SendAbort()
		return
	}
	h.txn.SendEOM()
}

// parseResponseLength extracts the requested body length from a path of
// the form "/<decimal>".
func parseResponseLength(path string) (uint64, error) {
	raw := strings.TrimPrefix(path, "/")
	length, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &InvalidLengthError{Path: path}
	}
	return length, nil
}
