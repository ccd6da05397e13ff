// Package devtools implements the control channel to one remote-debugging
// endpoint: a message-oriented websocket exchanging {id, method, params}
// requests, {id, result|error} responses, and unsolicited lifecycle
// notifications for script execution contexts.
package devtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSessionClosed is returned by calls in flight when the control
// channel goes away underneath them.
var ErrSessionClosed = errors.New("devtools: session closed")

// RemoteError is an error payload carried in a protocol response, or an
// exception raised by an evaluated expression.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("devtools: remote error %d: %s", e.Code, e.Message)
}

// Evaluator is the retry-tolerant primitive shared by the locator and the
// extractor: evaluate an expression inside one execution context and let
// the caller decide whether a failure means "skip" or "invalidate".
type Evaluator interface {
	Eval(ctx context.Context, contextID int64, expr string) (json.RawMessage, error)
	Contexts() []int64
}

// Session owns one open control-channel connection. The live context set
// is maintained from notifications pushed by the remote side; it is
// eventually consistent with the page's real context lifecycle, never
// authoritative.
type Session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	nextID  atomic.Int64
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[int64]chan response
	contexts []int64
	present  map[int64]bool
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

type envelope struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

type response struct {
	result json.RawMessage
	err    error
}

// Dial opens the control channel. It fails if the websocket handshake
// does not complete within timeout.
func Dial(ctx context.Context, wsURL string, timeout time.Duration, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("devtools: dial %s: %w", wsURL, err)
	}
	// Extracted fragments carry inlined CSS and data URIs; the default
	// frame limit is far too small for a full workbench stylesheet.
	conn.SetReadLimit(64 << 20)

	s := &Session{
		conn:    conn,
		logger:  logger,
		pending: make(map[int64]chan response),
		present: make(map[int64]bool),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Call sends one request and resolves when the matching response arrives.
// Concurrent calls with distinct ids are fine; each id has exactly one
// pending slot.
func (s *Session) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := s.nextID.Add(1)

	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("devtools: marshal params for %s: %w", method, err)
		}
		rawParams = b
	}

	ch := make(chan response, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.pending[id] = ch
	s.mu.Unlock()

	s.writeMu.Lock()
	err := s.conn.WriteJSON(envelope{ID: id, Method: method, Params: rawParams})
	s.writeMu.Unlock()
	if err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("devtools: write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSessionClosed
	case resp := <-ch:
		return resp.result, resp.err
	}
}

// EnableContextTracking turns on context lifecycle notifications, then
// waits a settle period: contexts that existed before enablement are only
// announced in response to the enable itself, never retroactively later.
func (s *Session) EnableContextTracking(ctx context.Context, settle time.Duration) error {
	if _, err := s.Call(ctx, "Runtime.enable", nil); err != nil {
		return fmt.Errorf("devtools: enable runtime: %w", err)
	}
	if settle > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settle):
		}
	}
	return nil
}

type evalResult struct {
	Result struct {
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

// Eval runs an expression inside the given context and returns its
// by-value result. Exceptions surface as *RemoteError.
func (s *Session) Eval(ctx context.Context, contextID int64, expr string) (json.RawMessage, error) {
	raw, err := s.Call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
		"contextId":     contextID,
	})
	if err != nil {
		return nil, err
	}

	var res evalResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("devtools: decode evaluate result: %w", err)
	}
	if res.ExceptionDetails != nil {
		msg := res.ExceptionDetails.Text
		if res.ExceptionDetails.Exception != nil && res.ExceptionDetails.Exception.Description != "" {
			msg = res.ExceptionDetails.Exception.Description
		}
		return nil, &RemoteError{Message: msg}
	}
	return res.Result.Value, nil
}

// Contexts returns the live execution context ids in insertion order.
func (s *Session) Contexts() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.contexts))
	copy(out, s.contexts)
	return out
}

// Close tears down the connection. In-flight calls fail with
// ErrSessionClosed. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for id, ch := range s.pending {
			ch <- response{err: ErrSessionClosed}
			delete(s.pending, id)
		}
		s.mu.Unlock()
		close(s.done)
		s.conn.Close()
	})
	return nil
}

// readLoop is the single reader: every incoming message is either a
// tagged response or an untagged notification, dispatched by id presence.
func (s *Session) readLoop() {
	defer s.Close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Debug("devtools: unparseable frame", "error", err)
			continue
		}

		if env.ID != 0 {
			s.mu.Lock()
			ch, ok := s.pending[env.ID]
			delete(s.pending, env.ID)
			s.mu.Unlock()
			if !ok {
				continue // response for a call that gave up
			}
			if env.Error != nil {
				ch <- response{err: env.Error}
			} else {
				ch <- response{result: env.Result}
			}
			continue
		}

		s.handleEvent(env.Method, env.Params)
	}
}

func (s *Session) handleEvent(method string, params json.RawMessage) {
	switch method {
	case "Runtime.executionContextCreated":
		var ev struct {
			Context struct {
				ID int64 `json:"id"`
			} `json:"context"`
		}
		if err := json.Unmarshal(params, &ev); err != nil || ev.Context.ID == 0 {
			return
		}
		s.mu.Lock()
		if !s.present[ev.Context.ID] {
			s.present[ev.Context.ID] = true
			s.contexts = append(s.contexts, ev.Context.ID)
		}
		s.mu.Unlock()

	case "Runtime.executionContextDestroyed":
		var ev struct {
			ExecutionContextID int64 `json:"executionContextId"`
		}
		if err := json.Unmarshal(params, &ev); err != nil || ev.ExecutionContextID == 0 {
			return
		}
		s.mu.Lock()
		if s.present[ev.ExecutionContextID] {
			delete(s.present, ev.ExecutionContextID)
			for i, id := range s.contexts {
				if id == ev.ExecutionContextID {
					s.contexts = append(s.contexts[:i], s.contexts[i+1:]...)
					break
				}
			}
		}
		s.mu.Unlock()

	case "Runtime.executionContextsCleared":
		s.mu.Lock()
		s.contexts = nil
		s.present = make(map[int64]bool)
		s.mu.Unlock()
	}
}
