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
	"sync"
)

const (
	initialBufferSize    = 4 * 1024
	maxRecycleBufferSize = 1024 * 1024 // if >1MiB, don't hold onto a buffer
)

// bufferPool recycles the buffers used for chunk generation and egress
// staging. Oversized buffers are dropped rather than pinned in the pool.
type bufferPool struct {
	sync.Pool
}

func newBufferPool() *bufferPool {
	return &bufferPool{}
}

func (b *bufferPool) Get() *bytes.Buffer {
	if buffer, ok := b.Pool.Get().(*bytes.Buffer); ok {
		buffer.Reset()
		return buffer
	}
	return bytes.NewBuffer(make([]byte, 0, initialBufferSize))
}

func (b *bufferPool) Put(buffer *bytes.Buffer) {
	if buffer.Cap() > maxRecycleBufferSize {
		return
	}
	b.Pool.Put(buffer)
}
