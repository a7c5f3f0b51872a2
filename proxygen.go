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

// Package proxygen implements the classic HQ sample handlers — echo,
// random-byte generation, health check, wait/release and a catch-all —
// on top of a small transaction/handler abstraction, plus a bridge that
// runs those handlers over net/http.
//
// The interesting part is the flow-controlled response generator behind
// the numeric endpoints: it produces bodies of arbitrary requested length
// in bounded chunks, pausing when the transport signals saturation and
// resuming exactly where it left off.
package proxygen

import (
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	// DefaultMaxResponseLength bounds the body a numeric endpoint will
	// generate. Longer requests are rejected before any output.
	DefaultMaxResponseLength = 10 * 1024 * 1024
	// DefaultMaxChunkSize bounds a single emission step of the
	// streaming responder.
	DefaultMaxChunkSize = 100 * 1024
	// DefaultEgressBufferLimit is the buffered-egress high watermark at
	// which the bridge pauses a producing handler.
	DefaultEgressBufferLimit = 64 * 1024
	// DefaultHTTPVersion is the version string handlers stamp on
	// responses.
	DefaultHTTPVersion = "1.1"
)

// Mux routes requests to the sample handlers and carries their shared
// configuration. The zero value is usable; AsHandler applies defaults.
//
// Configure the Mux from a single goroutine before calling AsHandler.
// The returned handler is safe for concurrent requests; the Mux must not
// be mutated once it is serving.
type Mux struct {
	// HTTPVersion is the version string stamped on responses. Defaults
	// to DefaultHTTPVersion.
	HTTPVersion string
	// MaxResponseLength caps the generated body length of numeric
	// endpoints. Defaults to DefaultMaxResponseLength.
	MaxResponseLength uint64
	// MaxChunkSize caps one emission step of the streaming responder.
	// Defaults to DefaultMaxChunkSize.
	MaxChunkSize uint64
	// EgressBufferLimit is the number of buffered egress bytes at which
	// a handler is paused. Defaults to DefaultEgressBufferLimit.
	EgressBufferLimit int
	// WriteBytesPerSecond paces writes to the wire. Zero means unpaced.
	// Pacing happens on the transport side only; handlers never block.
	WriteBytesPerSecond int
	// Unhealthy flips the health endpoint to its failing answer, for
	// draining a server out of a load balancer.
	Unhealthy bool
	// Logger receives per-exchange debug logging. Defaults to a no-op
	// logger.
	Logger *zap.Logger
	// Metrics receives the Prometheus counters. Nil disables metrics.
	Metrics *Metrics
	// Registry connects wait and release requests. One is created if
	// left nil; inject a shared instance to span several Muxes.
	Registry *WaitReleaseRegistry

	init sync.Once
	pool *bufferPool
}

// AsHandler returns the http.Handler serving the sample routes:
// /echo, /continue, /health, /wait/<id>, /release/<id>, a hint response
// at "/", and /<number> (random bytes) for everything else.
func (m *Mux) AsHandler() http.Handler {
	m.maybeInit()
	return &bridge{mux: m}
}

func (m *Mux) maybeInit() {
	m.init.Do(func() {
		if m.HTTPVersion == "" {
			m.HTTPVersion = DefaultHTTPVersion
		}
		if m.MaxResponseLength == 0 {
			m.MaxResponseLength = DefaultMaxResponseLength
		}
		if m.MaxChunkSize == 0 {
			m.MaxChunkSize = DefaultMaxChunkSize
		}
		if m.EgressBufferLimit <= 0 {
			m.EgressBufferLimit = DefaultEgressBufferLimit
		}
		if m.Logger == nil {
			m.Logger = zap.NewNop()
		}
		if m.Registry == nil {
			m.Registry = NewWaitReleaseRegistry(m.Logger, m.Metrics)
		}
		m.pool = newBufferPool()
	})
}

// newHandler picks the handler for a request path and returns it with
// its metrics label.
func (m *Mux) newHandler(path string) (Handler, string) {
	switch {
	case path == "/echo":
		return NewEchoHandler(m.HTTPVersion, m.Logger), "echo"
	case path == "/continue":
		return NewContinueHandler(m.HTTPVersion, m.Logger), "continue"
	case path == "/health" || path == "/healthz":
		return NewHealthCheckHandler(!m.Unhealthy, m.HTTPVersion, m.Logger), "health"
	case path == "/wait" || path == "/release" ||
		strings.HasPrefix(path, "/wait/") || strings.HasPrefix(path, "/release/"):
		return NewWaitReleaseHandler(m.Registry, m.HTTPVersion, m.Logger), "waitrelease"
	case path == "/" || path == "":
		return NewDummyHandler(m.HTTPVersion, m.Logger), "dummy"
	default:
		// Everything else is treated as a response-length request; the
		// handler rejects paths that don't parse as one.
		return NewRandBytesGenHandler(m.HTTPVersion, m.MaxResponseLength, m.MaxChunkSize, m.pool, m.Logger, m.Metrics), "randbytes"
	}
}
