package cdp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Target describes one debuggable page exposed by the browser's discovery
// endpoint (the /json/list shape).
type Target struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Options configures a protocol session.
type Options struct {
	// ConnectTimeout bounds the websocket dial and handshake (default 10s)
	ConnectTimeout time.Duration

	// CommandTimeout is applied to Send calls whose context carries no
	// deadline of its own (default 30s)
	CommandTimeout time.Duration
}

// DefaultConnectTimeout bounds the websocket dial when Options does not.
const DefaultConnectTimeout = 10 * time.Second

// DefaultCommandTimeout bounds a Send when neither the caller's context nor
// Options set a deadline.
const DefaultCommandTimeout = 30 * time.Second

// EventHandler receives the params payload of an unsolicited event frame.
type EventHandler func(params json.RawMessage)

// request is the wire shape of an outgoing command frame.
type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// frame is the wire shape of any incoming message. A non-zero ID marks a
// command response; a bare Method marks an event notification.
type frame struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

// RemoteError is the error object the browser attaches to a failed command.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}
