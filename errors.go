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
	"fmt"
	"net/http"
)

// InvalidLengthError reports a request path that does not carry a valid
// non-negative response length.
type InvalidLengthError struct {
	Path string
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid URL: cannot extract requested response length from path %q", e.Path)
}

// LengthLimitError reports a requested response length above the
// configured maximum. It is raised before any output is produced.
type LengthLimitError struct {
	Requested uint64
	Limit     uint64
}

func (e *LengthLimitError) Error() string {
	return fmt.Sprintf("requested %d bytes exceeds the maximum of %d; please request a smaller size", e.Requested, e.Limit)
}

// SinkError wraps a failure reported by the transaction sink. Sink
// failures are terminal: the job is aborted, never retried.
type SinkError struct {
	Cause error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink failure: %v", e.Cause)
}

func (e *SinkError) Unwrap() error { return e.Cause }

// errTransactionClosed is returned from SendBody once the transaction has
// been aborted or torn down.
var errTransactionClosed = errors.New("transaction closed")

type httpError struct {
	code   int
	header http.Header
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}

func (e *httpError) Encode(writer http.ResponseWriter) {
	for key, vals := range e.header {
		for _, val := range vals {
			writer.Header().Add(key, val)
		}
	}
	http.Error(writer, e.Error(), e.code)
}

// asHTTPError maps an error to the status it should produce when no
// response has been started yet. Client mistakes map to 400; everything
// else is a 500.
func asHTTPError(err error) *httpError {
	if err == nil {
		return &httpError{code: http.StatusOK}
	}
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	var invalidLen *InvalidLengthError
	var lenLimit *LengthLimitError
	if errors.As(err, &invalidLen) || errors.As(err, &lenLimit) {
		return &httpError{code: http.StatusBadRequest}
	}
	return &httpError{code: http.StatusInternalServerError}
}
