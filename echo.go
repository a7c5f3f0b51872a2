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

// legacyHTTPVersion marks an HTTP/0.9-style exchange, which gets the
// ASCII footer appended to its echo.
const legacyHTTPVersion = "0.9"

const h1qFooter = `
 __    __  .___________.___________..______      ___ ___       ___    ______
|  |  |  | |           |           ||   _  \    /  // _ \     / _ \  |      \
|  |__|  | ` + "`" + `---|  |----` + "`" + `---|  |----` + "`" + `|  |_)  |  /  /| | | |   | (_) | ` + "`" + `----)  |
|   __   |     |  |        |  |     |   ___/  /  / | | | |    \__, |     /  /
|  |  |  |     |  |        |  |     |  |     /  /  | |_| |  __  / /     |__|
|__|  |__|     |__|        |__|     | _|    /__/    \___/  (__)/_/       __
                                                                        (__)


____    __    ____  __    __       ___   .___________.
\   \  /  \  /   / |  |  |  |     /   \  |           |
 \   \/    \/   /  |  |__|  |    /  ^  \ ` + "`" + `---|  |----` + "`" + `
  \            /   |   __   |   /  /_\  \    |  |
   \    /\    /    |  |  |  |  /  _____  \   |  |
    \__/  \__/     |__|  |__| /__/     \__\  |__|

____    ____  _______     ___      .______
\   \  /   / |   ____|   /   \     |   _  \
 \   \/   /  |  |__     /  ^  \    |  |_)  |
  \_    _/   |   __|   /  /_\  \   |      /
    |  |     |  |____ /  _____  \  |  |\  \----.
    |__|     |_______/__/     \__\ | _| ` + "`" + `._____|

 __       _______.    __  .___________.______
|  |     /       |   |  | |           |      \
|  |    |   (----` + "`" + `   |  | ` + "`" + `---|  |----` + "`" + `----)  |
|  |     \   \       |  |     |  |        /  /
|  | .----)   |      |  |     |  |       |__|
|__| |_______/       |__|     |__|        __
                                         (__)
`

// EchoHandler mirrors the request back to the caller: every request
// header comes back prefixed with "x-echo-", and the request body is
// echoed chunk for chunk as it arrives.
type EchoHandler struct {
	baseHandler
	sendFooter bool
}

// NewEchoHandler returns an echo handler responding with the given HTTP
// version string.
func NewEchoHandler(version string, logger *zap.Logger) *EchoHandler {
	return &EchoHandler{baseHandler: baseHandler{version: version, logger: logger}}
}

func (h *EchoHandler) OnHeadersComplete(msg *Message) {
	h.logger.Debug("echo: headers complete", zap.String("path", msg.Path))
	h.sendFooter = msg.Version == legacyHTTPVersion
	resp := NewResponse(h.version, 200, "Ok")
	for name, vals := range msg.Header {
		for _, val := range vals {
			resp.Header.Add("x-echo-"+name, val)
		}
	}
	resp.StripPerHopHeaders()
	h.txn.SendHeaders(resp)
}

func (h *EchoHandler) OnBody(data []byte) {
	h.logger.Debug("echo: body", zap.Int("bytes", len(data)))
	if err := h.txn.SendBody(data); err != nil {
		h.logger.Warn("echo: send failed", zap.Error(err))
		h.txn.SendAbort()
	}
}

func (h *EchoHandler) OnEOM() {
	h.logger.Debug("echo: EOM")
	if h.sendFooter {
		if err := h.txn.SendBody([]byte(h1qFooter)); err != nil {
			h.txn.SendAbort()
			return
		}
	}
	h.txn.SendEOM()
}

func (h *EchoHandler) OnError(error) {
	h.txn.SendAbort()
}

// ContinueHandler is an EchoHandler that answers "Expect: 100-continue"
// requests with an interim 100 response before echoing.
type ContinueHandler struct {
	EchoHandler
}

// NewContinueHandler returns a continue handler responding with the given
// HTTP version string.
func NewContinueHandler(version string, logger *zap.Logger) *ContinueHandler {
	return &ContinueHandler{EchoHandler{baseHandler: baseHandler{version: version, logger: logger}}}
}

func (h *ContinueHandler) OnHeadersComplete(msg *Message) {
	h.logger.Debug("continue: headers complete")
	if msg.Header.Get("Expect") == "100-continue" {
		h.txn.SendHeaders(NewResponse(h.version, 100, "Continue"))
	}
	h.EchoHandler.OnHeadersComplete(msg)
}
