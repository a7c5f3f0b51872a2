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

	"go.uber.org/zap"
)

const dummyMessage = "you reached the sample server, " +
	"reach the /echo endpoint for an echo response, " +
	"query /<number> endpoints for a variable size response with random bytes"

// DummyHandler is the catch-all route: a fixed 200 hinting at the
// endpoints the sample server actually implements.
type DummyHandler struct {
	baseHandler
}

// NewDummyHandler returns the catch-all handler.
func NewDummyHandler(version string, logger *zap.Logger) *DummyHandler {
	return &DummyHandler{baseHandler{version: version, logger: logger}}
}

func (h *DummyHandler) OnHeadersComplete(msg *Message) {
	h.logger.Debug("dummy: headers complete")
	resp := NewResponse(h.version, 200, "Ok")
	resp.StripPerHopHeaders()
	h.txn.SendHeaders(resp)
	if msg.Method == http.MethodGet {
		h.send()
	}
}

func (h *DummyHandler) OnBody([]byte) {
	h.logger.Debug("dummy: body")
	h.send()
}

func (h *DummyHandler) OnEOM() {
	h.logger.Debug("dummy: EOM")
	h.txn.SendEOM()
}

func (h *DummyHandler) OnError(error) {
	h.txn.SendAbort()
}

func (h *DummyHandler) send() {
	if err := h.txn.SendBody([]byte(dummyMessage)); err != nil {
		h.txn.SendAbort()
	}
}
