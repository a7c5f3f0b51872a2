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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// wireWriteChunk is the largest single write handed to the
	// ResponseWriter, so pacing stays granular.
	wireWriteChunk = 32 * 1024
	// ingressReadChunk sizes the request-body read buffer.
	ingressReadChunk = 8 * 1024
)

var errTransactionAborted = errors.New("transaction aborted")

// bridge adapts the Transaction/Handler abstraction to net/http. One
// serverTransaction is created per request; the handler runs on the
// request goroutine and its queued egress is drained to the wire between
// callbacks.
type bridge struct {
	mux *Mux
}

func (b *bridge) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	mux := b.mux
	handler, name := mux.newHandler(request.URL.Path)
	txn := newServerTransaction(writer, mux)
	txn.attach(handler)
	mux.Metrics.transactionStarted()
	defer mux.Metrics.transactionFinished()
	defer handler.DetachTransaction()

	ctx := request.Context()
	handler.OnHeadersComplete(requestMessage(request))

	var ingressErr error
	if request.Body != nil {
		buf := make([]byte, ingressReadChunk)
		for !txn.closed() {
			n, err := request.Body.Read(buf)
			if n > 0 {
				handler.OnBody(buf[:n])
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					ingressErr = err
				}
				break
			}
			if err := txn.pump(ctx); err != nil {
				ingressErr = err
				break
			}
		}
	}
	if ingressErr != nil && !errors.Is(ingressErr, errTransactionAborted) {
		handler.OnError(ingressErr)
	} else if ingressErr == nil {
		handler.OnEOM()
	}

	err := txn.run(ctx)
	status := txn.finalStatus()
	mux.Metrics.requestServed(name, status)
	switch {
	case err == nil:
	case errors.Is(err, errTransactionAborted):
		if !txn.wroteHeaders() {
			cause := ingressErr
			if cause == nil {
				cause = err
			}
			asHTTPError(cause).Encode(writer)
			return
		}
		// Headers are out; the only way to signal failure is to kill
		// the stream.
		panic(http.ErrAbortHandler)
	case ctx.Err() != nil:
		// Client went away; nothing left to write to.
	default:
		mux.Logger.Warn("transaction failed", zap.String("handler", name), zap.Error(err))
	}
}

// requestMessage converts an incoming request into the handler-facing
// message view.
func requestMessage(r *http.Request) *Message {
	return &Message{
		Method:  r.Method,
		Path:    r.URL.Path,
		Version: fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		Header:  r.Header.Clone(),
	}
}

// serverTransaction implements Transaction over an http.ResponseWriter.
//
// Handlers queue output through the Send* methods, which never block;
// the request goroutine drains the queue to the wire via pump/run. When
// queued egress crosses the configured watermark the handler gets an
// OnEgressPaused, and an OnEgressResumed once the queue has drained.
//
// The mutex makes the Send* side safe to call from another goroutine,
// which is how a parked wait/release exchange is completed.
type serverTransaction struct {
	writer  http.ResponseWriter
	control *http.ResponseController
	limiter *rate.Limiter
	pool    *bufferPool
	logger  *zap.Logger
	handler Handler

	highWatermark int

	mu             sync.Mutex
	wake           chan struct{}
	pendingHeaders []*Message
	egress         *bytes.Buffer
	paused         bool
	eomQueued      bool
	aborted        bool
	wireErr        error
	wroteHeader    bool
	status         int
}

func newServerTransaction(writer http.ResponseWriter, mux *Mux) *serverTransaction {
	var limiter *rate.Limiter
	if mux.WriteBytesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(mux.WriteBytesPerSecond), wireWriteChunk)
	}
	return &serverTransaction{
		writer:        writer,
		control:       http.NewResponseController(writer),
		limiter:       limiter,
		pool:          mux.pool,
		logger:        mux.Logger,
		highWatermark: mux.EgressBufferLimit,
		wake:          make(chan struct{}, 1),
		egress:        mux.pool.Get(),
	}
}

func (t *serverTransaction) attach(handler Handler) {
	t.handler = handler
	handler.SetTransaction(t)
}

// SendHeaders queues a response message. Interim (1xx) messages may
// precede the final one.
func (t *serverTransaction) SendHeaders(msg *Message) {
	t.mu.Lock()
	t.pendingHeaders = append(t.pendingHeaders, msg)
	t.mu.Unlock()
	t.signal()
}

// SendBody queues a body chunk. Crossing the egress watermark pauses the
// handler; the pause callback fires before SendBody returns so a
// producer's emission loop sees it immediately.
func (t *serverTransaction) SendBody(data []byte) error {
	t.mu.Lock()
	if t.aborted || t.eomQueued {
		t.mu.Unlock()
		return errTransactionClosed
	}
	if t.wireErr != nil {
		err := t.wireErr
		t.mu.Unlock()
		return err
	}
	t.egress.Write(data)
	pause := !t.paused && t.egress.Len() >= t.highWatermark
	if pause {
		t.paused = true
	}
	t.mu.Unlock()
	t.signal()
	if pause {
		t.handler.OnEgressPaused()
	}
	return nil
}

func (t *serverTransaction) SendEOM() {
	t.mu.Lock()
	t.eomQueued = true
	t.mu.Unlock()
	t.signal()
}

func (t *serverTransaction) SendAbort() {
	t.mu.Lock()
	t.aborted = true
	t.mu.Unlock()
	t.signal()
}

func (t *serverTransaction) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *serverTransaction) closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted || t.wireErr != nil
}

func (t *serverTransaction) wroteHeaders() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wroteHeader
}

// finalStatus reports the status written to the wire, or 200 if the
// handler never got as far as headers.
func (t *serverTransaction) finalStatus() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == 0 {
		return http.StatusOK
	}
	return t.status
}

// pump drains everything currently queued to the wire and fires resume
// callbacks, looping until the handler stops producing. It never waits
// for new output.
func (t *serverTransaction) pump(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.aborted {
			t.mu.Unlock()
			return errTransactionAborted
		}
		headers := t.pendingHeaders
		t.pendingHeaders = nil
		var out *bytes.Buffer
		if t.egress.Len() > 0 {
			out = t.egress
			t.egress = t.pool.Get()
		}
		resume := t.paused
		t.paused = false
		t.mu.Unlock()

		for _, msg := range headers {
			t.writeHeader(msg)
		}
		if out != nil {
			err := t.writeBody(ctx, out.Bytes())
			t.pool.Put(out)
			if err != nil {
				t.fail(err)
				return err
			}
		}
		if resume {
			t.handler.OnEgressResumed()
			continue
		}
		if headers == nil && out == nil {
			return nil
		}
	}
}

// run drives the transaction to completion: drain, then sleep until the
// handler queues more output or the client goes away. A parked exchange
// sits in the wait here until another goroutine completes it.
func (t *serverTransaction) run(ctx context.Context) error {
	for {
		if err := t.pump(ctx); err != nil {
			return err
		}
		t.mu.Lock()
		done := t.eomQueued && t.egress.Len() == 0 && len(t.pendingHeaders) == 0
		t.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-t.wake:
		case <-ctx.Done():
			t.handler.OnError(ctx.Err())
			if err := t.pump(ctx); err != nil && !errors.Is(err, errTransactionAborted) {
				return err
			}
			return ctx.Err()
		}
	}
}

func (t *serverTransaction) writeHeader(msg *Message) {
	header := t.writer.Header()
	for name, vals := range msg.Header {
		for _, val := range vals {
			header.Add(name, val)
		}
	}
	t.writer.WriteHeader(msg.StatusCode)
	if msg.StatusCode >= 200 {
		t.mu.Lock()
		t.wroteHeader = true
		t.status = msg.StatusCode
		t.mu.Unlock()
	}
}

func (t *serverTransaction) writeBody(ctx context.Context, data []byte) error {
	t.mu.Lock()
	if !t.wroteHeader {
		// net/http will default the status; record what went out.
		t.wroteHeader = true
		t.status = http.StatusOK
	}
	t.mu.Unlock()
	for len(data) > 0 {
		n := min(len(data), wireWriteChunk)
		if t.limiter != nil {
			if err := t.limiter.WaitN(ctx, n); err != nil {
				return err
			}
		}
		if _, err := t.writer.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	if err := t.control.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func (t *serverTransaction) fail(err error) {
	t.logger.Debug("wire write failed", zap.Error(err))
	t.mu.Lock()
	t.wireErr = &SinkError{Cause: err}
	t.mu.Unlock()
}
