// Package cdp implements the protocol session: reliable command/response
// exchange and event delivery over a single persistent websocket to a
// remote browser's debugging interface.
//
// Responses are matched to requests strictly by id, so completion order may
// differ from send order; callers must not assume FIFO completion. A cache
// hit on a resolved element never guarantees server-side liveness — that
// contract lives in pkg/cache.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/entrhq/pilot/pkg/errs"
	"github.com/entrhq/pilot/pkg/logging"
)

// sessionCounter feeds monotonically unique session tags. Tags are never
// reused across sessions within one process.
var sessionCounter atomic.Int64

// Session owns one websocket connection to a browser target. Multiple Send
// calls may be outstanding concurrently; each is correlated independently by
// request id with no head-of-line blocking.
type Session struct {
	conn *websocket.Conn
	log  *logging.Logger
	opts Options

	createdAt time.Time
	tagOnce   sync.Once
	tag       string

	nextID atomic.Int64

	// writeMu serializes frame writes; gorilla permits one writer at a time.
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan frame

	listenersMu sync.RWMutex
	listeners   map[string][]EventHandler

	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

// Connect discovers nothing on its own: it opens the websocket at wsURL with
// an explicit connect timeout. A dial that exceeds the timeout fails with a
// connect_timeout error; the half-open socket is torn down by the dialer.
// Connect-phase failures are fatal to this attempt and not retried here.
func Connect(ctx context.Context, wsURL string, opts Options, log *logging.Logger) (*Session, error) {
	if log == nil {
		log = logging.Discard("cdp")
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(dialCtx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		// The caller cancelling the parent context is not a timeout, even
		// though dialCtx reports done in that case too.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errs.Session("websocket dial cancelled", ctxErr, map[string]any{
				"url": wsURL,
			})
		}
		if dialCtx.Err() != nil || isTimeout(err) {
			return nil, errs.ConnectTimeout("websocket dial exceeded timeout", map[string]any{
				"url":     wsURL,
				"timeout": timeout.String(),
			})
		}
		return nil, errs.Session("websocket dial failed", err, map[string]any{
			"url": wsURL,
		})
	}

	s := &Session{
		conn:      conn,
		log:       log,
		opts:      opts,
		createdAt: time.Now(),
		pending:   make(map[int64]chan frame),
		listeners: make(map[string][]EventHandler),
		done:      make(chan struct{}),
	}

	go s.readLoop()

	log.Infof("session %s connected to %s", s.Tag(), wsURL)
	return s, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Tag returns the session's lazily assigned identity tag: a process-unique
// counter plus creation timestamp. The cache keys entries by this tag, never
// by session internals.
func (s *Session) Tag() string {
	s.tagOnce.Do(func() {
		s.tag = fmt.Sprintf("s%d-%d", sessionCounter.Add(1), s.createdAt.UnixNano())
	})
	return s.tag
}

// Send issues one command frame and suspends until the correlated response
// arrives, the context expires, or the session closes. A send on a closed
// session fails immediately.
//
// When the caller's context carries no deadline, the session's configured
// command timeout applies.
func (s *Session) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.closed.Load() {
		return nil, errs.Session("send on closed session", nil, map[string]any{
			"method": method,
		})
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := s.opts.CommandTimeout
		if timeout <= 0 {
			timeout = DefaultCommandTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	id := s.nextID.Add(1)
	sink := make(chan frame, 1)

	// Register the sink before writing so a fast response cannot race past it.
	s.pendingMu.Lock()
	s.pending[id] = sink
	s.pendingMu.Unlock()

	if err := s.writeFrame(request{ID: id, Method: method, Params: params}); err != nil {
		s.dropPending(id)
		return nil, errs.Session("write failed", err, map[string]any{
			"method": method,
		})
	}

	select {
	case f := <-sink:
		if f.Error != nil {
			return nil, errs.Session("command failed", f.Error, map[string]any{
				"method": method,
				"code":   f.Error.Code,
			})
		}
		return f.Result, nil

	case <-ctx.Done():
		// Abandon the sink. If the response frame still arrives it is
		// dropped as unmatched by the read loop; the underlying request is
		// not cancelled at the browser.
		s.dropPending(id)
		return nil, errs.Session("command timed out", ctx.Err(), map[string]any{
			"method": method,
		})

	case <-s.done:
		return nil, errs.Session("session closed", nil, map[string]any{
			"method": method,
		})
	}
}

// On registers a handler for unsolicited event frames with the given method
// name. Handlers run on the read loop goroutine, in registration order.
func (s *Session) On(method string, handler EventHandler) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners[method] = append(s.listeners[method], handler)
}

// IsHealthy reports whether the socket is open and has not seen a terminal
// read error.
func (s *Session) IsHealthy() bool {
	return !s.closed.Load()
}

// Close releases the socket and fails every still-pending command. Safe to
// call multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		err = s.conn.Close()
		s.failPending()
		s.log.Infof("session %s closed", s.Tag())
	})
	return err
}

func (s *Session) writeFrame(req request) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(req)
}

func (s *Session) dropPending(id int64) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// failPending abandons every pending sink; waiting Send calls observe the
// done channel and fail with a session-closed error.
func (s *Session) failPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id := range s.pending {
		delete(s.pending, id)
	}
}

// readLoop owns all frame dispatch for this session: responses are routed to
// their pending sink by id, event frames to registered listeners. An
// unmatched response (its caller already timed out) is logged and dropped.
func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() {
				s.log.Warnf("session %s read error: %v", s.Tag(), err)
				s.Close()
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warnf("session %s dropping malformed frame: %v", s.Tag(), err)
			continue
		}

		if f.ID != 0 {
			s.pendingMu.Lock()
			sink, ok := s.pending[f.ID]
			if ok {
				delete(s.pending, f.ID)
			}
			s.pendingMu.Unlock()

			if !ok {
				s.log.Debugf("session %s dropping unmatched response id=%d", s.Tag(), f.ID)
				continue
			}
			sink <- f
			continue
		}

		if f.Method != "" {
			s.dispatchEvent(f.Method, f.Params)
		}
	}
}

// dispatchEvent delivers an event to its listeners. Events never complete a
// pending command. A panicking handler must not kill the read loop.
func (s *Session) dispatchEvent(method string, params json.RawMessage) {
	s.listenersMu.RLock()
	handlers := s.listeners[method]
	s.listenersMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Errorf("session %s event handler for %s panicked: %v", s.Tag(), method, r)
				}
			}()
			h(params)
		}()
	}
}
