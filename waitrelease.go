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
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// WaitReleaseRegistry connects a parked "/wait/<id>" exchange with the
// "/release/<id>" request that completes it. It is the only piece of
// shared state in the package: a single mutex around an id-to-handler
// table, scoped to the Mux that owns it rather than process-wide.
type WaitReleaseRegistry struct {
	logger  *zap.Logger
	metrics *Metrics

	mu      sync.Mutex
	waiting map[uint64]*WaitReleaseHandler
}

// NewWaitReleaseRegistry returns an empty registry.
func NewWaitReleaseRegistry(logger *zap.Logger, metrics *Metrics) *WaitReleaseRegistry {
	return &WaitReleaseRegistry{
		logger:  logger,
		metrics: metrics,
		waiting: map[uint64]*WaitReleaseHandler{},
	}
}

// park records handler as waiting under id. Each id may have at most one
// waiter at a time.
func (r *WaitReleaseRegistry) park(id uint64, handler *WaitReleaseHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.waiting[id]; ok {
		return fmt.Errorf("wait #%d already exists", id)
	}
	r.waiting[id] = handler
	r.metrics.handlerParked()
	r.logger.Debug("parked wait handler", zap.Uint64("id", id))
	return nil
}

// take removes and returns the waiter parked under id, or nil if there is
// none.
func (r *WaitReleaseRegistry) take(id uint64) *WaitReleaseHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	handler, ok := r.waiting[id]
	if !ok {
		return nil
	}
	delete(r.waiting, id)
	r.metrics.handlerUnparked()
	return handler
}

// remove drops handler from the table if it is still the waiter parked
// under id. Used when a parked exchange is torn down before its release
// arrives.
func (r *WaitReleaseRegistry) remove(id uint64, handler *WaitReleaseHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waiting[id] == handler {
		delete(r.waiting, id)
		r.metrics.handlerUnparked()
		r.logger.Debug("removed wait handler", zap.Uint64("id", id))
	}
}

// WaitReleaseHandler implements the wait/release test hook: "/wait/<id>"
// answers 200 and parks the exchange open until a matching
// "/release/<id>" request arrives, which completes both.
type WaitReleaseHandler struct {
	baseHandler
	registry *WaitReleaseRegistry
	id       uint64
	parked   bool
}

// NewWaitReleaseHandler returns a wait/release handler backed by the
// given registry.
func NewWaitReleaseHandler(registry *WaitReleaseRegistry, version string, logger *zap.Logger) *WaitReleaseHandler {
	return &WaitReleaseHandler{
		baseHandler: baseHandler{version: version, logger: logger},
		registry:    registry,
	}
}

func (h *WaitReleaseHandler) OnHeadersComplete(msg *Message) {
	h.logger.Debug("waitrelease: headers complete", zap.String("path", msg.Path))
	op, id, err := parseWaitReleasePath(msg.Path)
	if err != nil {
		h.sendErrorResponse(err.Error())
		return
	}
	h.id = id
	switch op {
	case "wait":
		if err := h.registry.park(id, h); err != nil {
			h.sendErrorResponse(err.Error())
			return
		}
		h.parked = true
		h.sendOkResponse("waiting\n", false)
	case "release":
		waiter := h.registry.take(id)
		if waiter == nil {
			h.sendErrorResponse(fmt.Sprintf("no waiting handler found for #%d", id))
			return
		}
		waiter.release()
		h.sendOkResponse("released\n", true)
	}
}

func (h *WaitReleaseHandler) OnBody([]byte) {
	h.logger.Debug("waitrelease: body - ignoring")
}

func (h *WaitReleaseHandler) OnEOM() {
	h.logger.Debug("waitrelease: EOM")
}

func (h *WaitReleaseHandler) OnError(err error) {
	h.logger.Debug("waitrelease: error", zap.Error(err))
	h.maybeCleanup()
	h.txn.SendAbort()
}

func (h *WaitReleaseHandler) DetachTransaction() {
	h.maybeCleanup()
}

// release completes a parked exchange. It is invoked from the releasing
// request's goroutine; the transaction is responsible for making that
// hand-off safe.
func (h *WaitReleaseHandler) release() {
	if err := h.txn.SendBody([]byte("released\n")); err != nil {
		h.txn.SendAbort()
		return
	}
	h.txn.SendEOM()
}

func (h *WaitReleaseHandler) maybeCleanup() {
	if h.parked {
		h.parked = false
		h.registry.remove(h.id, h)
	}
}

func (h *WaitReleaseHandler) sendErrorResponse(body string) {
	resp := NewResponse(h.version, 400, "ERROR")
	h.txn.SendHeaders(resp)
	if err := h.txn.SendBody([]byte(body)); err != nil {
		h.txn.SendAbort()
		return
	}
	h.txn.SendEOM()
}

func (h *WaitReleaseHandler) sendOkResponse(body string, eom bool) {
	resp := NewResponse(h.version, 200, "OK")
	h.txn.SendHeaders(resp)
	if err := h.txn.SendBody([]byte(body)); err != nil {
		h.txn.SendAbort()
		return
	}
	if eom {
		h.txn.SendEOM()
	}
}

// parseWaitReleasePath splits "/wait/<id>" or "/release/<id>" into its
// operation and numeric id.
func parseWaitReleasePath(path string) (string, uint64, error) {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(parts) != 2 || (parts[0] != "wait" && parts[0] != "release") {
		return "", 0, fmt.Errorf("expecting /wait/<id> or /release/<id>, got %q", path)
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid id %q", parts[1])
	}
	return parts[0], id, nil
}
