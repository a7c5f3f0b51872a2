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
	"strings"

	"go.uber.org/zap"
)

// Message is a minimal view of an HTTP message, shared between requests
// and responses. For a request, Method and Path are set; for a response,
// StatusCode and StatusMessage are set. Version is the HTTP version as a
// bare string such as "1.1", "2.0", or "3".
type Message struct {
	Method        string
	Path          string
	Version       string
	StatusCode    int
	StatusMessage string
	Header        http.Header
}

// NewResponse returns a response message with the given version and status.
func NewResponse(version string, code int, status string) *Message {
	return &Message{
		Version:       version,
		StatusCode:    code,
		StatusMessage: status,
		Header:        http.Header{},
	}
}

// StripPerHopHeaders removes hop-by-hop headers that must not be forwarded
// or echoed back to a peer.
func (m *Message) StripPerHopHeaders() {
	for _, name := range perHopHeaders {
		m.Header.Del(name)
	}
	for _, field := range m.Header.Values("Connection") {
		for _, name := range strings.Split(field, ",") {
			m.Header.Del(strings.TrimSpace(name))
		}
	}
	m.Header.Del("Connection")
}

//nolint:gochecknoglobals
var perHopHeaders = []string{
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Transaction is the capability surface a handler uses to produce its
// response. It is the sink side of one HTTP exchange: headers first, then
// zero or more body chunks, then either end-of-message or an abort.
//
// Implementations may buffer. SendBody hands a chunk off without blocking
// the caller; the returned error reports a sink that has already failed or
// been torn down, never transient backpressure. Backpressure is delivered
// separately through Handler.OnEgressPaused and Handler.OnEgressResumed.
// The transaction owns the bytes once SendBody returns, so callers may
// reuse the slice.
type Transaction interface {
	// SendHeaders queues a response message. Interim (1xx) responses may
	// be sent before the final one.
	SendHeaders(msg *Message)
	// SendBody queues a chunk of response body.
	SendBody(data []byte) error
	// SendEOM marks the response complete; no further output follows.
	SendEOM()
	// SendAbort tears the exchange down without completing the response.
	SendAbort()
}

// Handler reacts to the events of one HTTP exchange. The transport owns
// the handler: it calls SetTransaction before any other callback and
// DetachTransaction exactly once when the exchange is over, after which
// the handler must not touch the transaction again.
//
// All callbacks for a given exchange are serialized; a handler never needs
// internal locking for its own state.
type Handler interface {
	SetTransaction(txn Transaction)
	DetachTransaction()

	OnHeadersComplete(msg *Message)
	OnBody(data []byte)
	OnEOM()
	OnError(err error)

	// OnEgressPaused signals that the transport is saturated and the
	// handler should stop producing output. OnEgressResumed signals that
	// capacity is available again.
	OnEgressPaused()
	OnEgressResumed()
}

// baseHandler supplies the boilerplate shared by all sample handlers:
// transaction attachment and no-op implementations of the optional
// callbacks. Embedders override what they need.
type baseHandler struct {
	txn     Transaction
	version string
	logger  *zap.Logger
}

func (h *baseHandler) SetTransaction(txn Transaction) { h.txn = txn }
func (h *baseHandler) DetachTransaction()             {}
func (h *baseHandler) OnBody([]byte)                  {}
func (h *baseHandler) OnEOM()                         {}
func (h *baseHandler) OnEgressPaused()                {}
func (h *baseHandler) OnEgressResumed()               {}
