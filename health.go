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
	"go.uber.org/zap"
)

// HealthCheckHandler reports whether the server considers itself
// healthy: 200 "1-AM-ALIVE" when it does, 400 "1-AM-NOT-WELL" when it is
// draining or failing.
type HealthCheckHandler struct {
	baseHandler
	healthy bool
}

// NewHealthCheckHandler returns a health handler with a fixed verdict.
func NewHealthCheckHandler(healthy bool, version string, logger *zap.Logger) *HealthCheckHandler {
	return &HealthCheckHandler{
		baseHandler: baseHandler{version: version, logger: logger},
		healthy:     healthy,
	}
}

func (h *HealthCheckHandler) OnHeadersComplete(*Message) {
	h.logger.Debug("health: headers complete", zap.Bool("healthy", h.healthy))
	code, status, body := 200, "Ok", "1-AM-ALIVE"
	if !h.healthy {
		code, status, body = 400, "Not Found", "1-AM-NOT-WELL"
	}
	resp := NewResponse(h.version, code, status)
	resp.StripPerHopHeaders()
	h.txn.SendHeaders(resp)
	if err := h.txn.SendBody([]byte(body)); err != nil {
		h.txn.SendAbort()
	}
}

func (h *HealthCheckHandler) OnEOM() {
	h.logger.Debug("health: EOM")
	h.txn.SendEOM()
}

func (h *HealthCheckHandler) OnError(error) {
	h.txn.SendAbort()
}
