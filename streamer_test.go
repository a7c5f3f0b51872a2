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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingTxn is a Transaction that records everything a handler sends.
// onSend, when set, runs after each accepted body chunk, which lets a
// test inject a pause mid-loop the way a saturated transport would.
type recordingTxn struct {
	headers  []*Message
	chunks   [][]byte
	eomCount int
	aborted  bool

	writeErr error
	onSend   func(chunkIndex int)
}

func (t *recordingTxn) SendHeaders(msg *Message) {
	t.headers = append(t.headers, msg)
}

func (t *recordingTxn) SendBody(data []byte) error {
	if t.writeErr != nil {
		return t.writeErr
	}
	t.chunks = append(t.chunks, append([]byte(nil), data...))
	if t.onSend != nil {
		t.onSend(len(t.chunks) - 1)
	}
	return nil
}

func (t *recordingTxn) SendEOM()   { t.eomCount++ }
func (t *recordingTxn) SendAbort() { t.aborted = true }

func (t *recordingTxn) totalBytes() int {
	total := 0
	for _, chunk := range t.chunks {
		total += len(chunk)
	}
	return total
}

func (t *recordingTxn) chunkSizes() []int {
	sizes := make([]int, 0, len(t.chunks))
	for _, chunk := range t.chunks {
		sizes = append(sizes, len(chunk))
	}
	return sizes
}

func newTestStreamer(t *testing.T, txn Transaction, length, maxLength, maxChunk uint64) *bodyStreamer {
	t.Helper()
	streamer, err := newBodyStreamer(txn, newBufferPool(), length, maxLength, maxChunk, zap.NewNop(), nil)
	require.NoError(t, err)
	return streamer
}

func TestStreamerEmitsExactLength(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		length    uint64
		maxChunk  uint64
		wantSizes []int
	}{{
		name:      "zero length",
		length:    0,
		maxChunk:  100_000,
		wantSizes: []int{},
	}, {
		name:      "single byte",
		length:    1,
		maxChunk:  100_000,
		wantSizes: []int{1},
	}, {
		name:      "odd length below one chunk",
		length:    99_999,
		maxChunk:  100_000,
		wantSizes: []int{99_999},
	}, {
		name:      "exact chunk boundary",
		length:    200_000,
		maxChunk:  100_000,
		wantSizes: []int{100_000, 100_000},
	}, {
		name:      "partial final chunk",
		length:    250_000,
		maxChunk:  100_000,
		wantSizes: []int{100_000, 100_000, 50_000},
	}}
	for _, testcase := range tests {
		testcase := testcase
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()
			txn := &recordingTxn{}
			streamer := newTestStreamer(t, txn, testcase.length, DefaultMaxResponseLength, testcase.maxChunk)
			require.NoError(t, streamer.emit())

			assert.Equal(t, int(testcase.length), txn.totalBytes())
			assert.Equal(t, 1, txn.eomCount, "EOM must be signalled exactly once")
			assert.True(t, streamer.done())
			if diff := cmp.Diff(testcase.wantSizes, txn.chunkSizes()); diff != "" {
				t.Errorf("chunk sizes (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStreamerRejectsOverLimit(t *testing.T) {
	t.Parallel()
	txn := &recordingTxn{}
	_, err := newBodyStreamer(txn, newBufferPool(), DefaultMaxResponseLength+1, DefaultMaxResponseLength, DefaultMaxChunkSize, zap.NewNop(), nil)
	var limitErr *LengthLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, uint64(DefaultMaxResponseLength+1), limitErr.Requested)
	assert.Empty(t, txn.chunks, "no output may precede the rejection")
	assert.Zero(t, txn.eomCount)
}

func TestStreamerAllowsExactLimit(t *testing.T) {
	t.Parallel()
	txn := &recordingTxn{}
	streamer := newTestStreamer(t, txn, 1024, 1024, 256)
	require.NoError(t, streamer.emit())
	assert.Equal(t, 1024, txn.totalBytes())
	assert.Equal(t, 1, txn.eomCount)
}

func TestStreamerPauseBeforeFirstChunk(t *testing.T) {
	t.Parallel()
	txn := &recordingTxn{}
	streamer := newTestStreamer(t, txn, 250_000, DefaultMaxResponseLength, 100_000)
	streamer.pause()
	require.NoError(t, streamer.emit())
	assert.Empty(t, txn.chunks, "no chunk may be emitted while paused")
	assert.Zero(t, txn.eomCount)

	require.NoError(t, streamer.resume())
	assert.Equal(t, 250_000, txn.totalBytes(), "pausing must not change cumulative output")
	assert.Equal(t, 1, txn.eomCount)
}

func TestStreamerPauseMidStream(t *testing.T) {
	t.Parallel()
	txn := &recordingTxn{}
	streamer := newTestStreamer(t, txn, 250_000, DefaultMaxResponseLength, 100_000)
	txn.onSend = func(chunkIndex int) {
		if chunkIndex == 0 {
			streamer.pause()
		}
	}
	require.NoError(t, streamer.emit())
	assert.Equal(t, []int{100_000}, txn.chunkSizes(), "pause must stop the loop before the next chunk")
	assert.Zero(t, txn.eomCount)
	assert.Equal(t, uint64(150_000), streamer.remaining)

	txn.onSend = nil
	require.NoError(t, streamer.resume())
	assert.Equal(t, []int{100_000, 100_000, 50_000}, txn.chunkSizes(), "resume continues from the remaining count")
	assert.Equal(t, 1, txn.eomCount)
}

func TestStreamerRedundantTriggers(t *testing.T) {
	t.Parallel()
	txn := &recordingTxn{}
	streamer := newTestStreamer(t, txn, 1000, DefaultMaxResponseLength, 400)
	require.NoError(t, streamer.emit())
	require.Equal(t, 1, txn.eomCount)

	// Resume on a job that is not paused is a no-op, and repeated emit
	// calls never duplicate output or the EOM.
	require.NoError(t, streamer.resume())
	require.NoError(t, streamer.emit())
	assert.Equal(t, 1000, txn.totalBytes())
	assert.Equal(t, 1, txn.eomCount)
}

func TestStreamerSinkFailureAborts(t *testing.T) {
	t.Parallel()
	cause := errors.New("stream reset")
	txn := &recordingTxn{writeErr: cause}
	streamer := newTestStreamer(t, txn, 1000, DefaultMaxResponseLength, 400)

	err := streamer.emit()
	var sinkErr *SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, txn.chunks)
	assert.Zero(t, txn.eomCount, "a failed job must not signal end-of-output")
	assert.False(t, streamer.done())
}

func TestStreamerChunkLengthIsExact(t *testing.T) {
	t.Parallel()
	// Odd lengths force the hex encoding to overshoot; the output must
	// be truncated to the requested size, never padded.
	for _, length := range []uint64{1, 7, 33, 101} {
		txn := &recordingTxn{}
		streamer := newTestStreamer(t, txn, length, DefaultMaxResponseLength, 50)
		require.NoError(t, streamer.emit())
		assert.Equal(t, int(length), txn.totalBytes(), "length %d", length)
	}
}
