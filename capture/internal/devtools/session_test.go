package devtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeEndpoint is a scriptable remote side: the handler receives each
// decoded request and writes whatever frames it wants back.
type fakeEndpoint struct {
	srv     *httptest.Server
	handler func(conn *websocket.Conn, writeMu *sync.Mutex, env envelope)
}

func newFakeEndpoint(t *testing.T, handler func(conn *websocket.Conn, writeMu *sync.Mutex, env envelope)) *fakeEndpoint {
	t.Helper()
	fe := &fakeEndpoint{handler: handler}
	upgrader := websocket.Upgrader{}
	fe.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		var writeMu sync.Mutex
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			go fe.handler(conn, &writeMu, env)
		}
	}))
	t.Cleanup(fe.srv.Close)
	return fe
}

func (fe *fakeEndpoint) wsURL() string {
	return "ws" + strings.TrimPrefix(fe.srv.URL, "http")
}

func writeFrame(conn *websocket.Conn, writeMu *sync.Mutex, v any) {
	writeMu.Lock()
	defer writeMu.Unlock()
	conn.WriteJSON(v)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialTest(t *testing.T, fe *fakeEndpoint) *Session {
	t.Helper()
	s, err := Dial(context.Background(), fe.wsURL(), time.Second, discardLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCallMatchesConcurrentResponses(t *testing.T) {
	fe := newFakeEndpoint(t, func(conn *websocket.Conn, writeMu *sync.Mutex, env envelope) {
		// Echo the request id back in the result, out of order for odd ids.
		if env.ID%2 == 1 {
			time.Sleep(20 * time.Millisecond)
		}
		writeFrame(conn, writeMu, map[string]any{
			"id":     env.ID,
			"result": map[string]int64{"echo": env.ID},
		})
	})
	s := dialTest(t, fe)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, err := s.Call(context.Background(), "Test.echo", nil)
			if err != nil {
				t.Errorf("call: %v", err)
				return
			}
			var res struct {
				Echo int64 `json:"echo"`
			}
			if err := json.Unmarshal(raw, &res); err != nil {
				t.Errorf("decode: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestCallRemoteError(t *testing.T) {
	fe := newFakeEndpoint(t, func(conn *websocket.Conn, writeMu *sync.Mutex, env envelope) {
		writeFrame(conn, writeMu, map[string]any{
			"id":    env.ID,
			"error": map[string]any{"code": -32601, "message": "method not found"},
		})
	})
	s := dialTest(t, fe)

	_, err := s.Call(context.Background(), "No.such", nil)
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *RemoteError", err)
	}
	if re.Code != -32601 {
		t.Errorf("code = %d, want -32601", re.Code)
	}
}

func TestCallContextCancellation(t *testing.T) {
	fe := newFakeEndpoint(t, func(conn *websocket.Conn, writeMu *sync.Mutex, env envelope) {
		// Never answer.
	})
	s := dialTest(t, fe)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Call(ctx, "Test.hang", nil); err != context.DeadlineExceeded {
		t.Errorf("error = %v, want context deadline", err)
	}
}

func TestCloseFailsInflightCalls(t *testing.T) {
	fe := newFakeEndpoint(t, func(conn *websocket.Conn, writeMu *sync.Mutex, env envelope) {
		// Never answer.
	})
	s := dialTest(t, fe)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Call(context.Background(), "Test.hang", nil)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	s.Close()

	select {
	case err := <-errCh:
		if err != ErrSessionClosed {
			t.Errorf("error = %v, want ErrSessionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("in-flight call never resolved after close")
	}
}

func TestContextLifecycleTracking(t *testing.T) {
	fe := newFakeEndpoint(t, func(conn *websocket.Conn, writeMu *sync.Mutex, env envelope) {
		if env.Method != "Runtime.enable" {
			writeFrame(conn, writeMu, map[string]any{"id": env.ID, "result": map[string]any{}})
			return
		}
		// Announce the pre-existing contexts, then ack, then churn.
		for _, id := range []int64{1, 2, 3} {
			writeFrame(conn, writeMu, map[string]any{
				"method": "Runtime.executionContextCreated",
				"params": map[string]any{"context": map[string]int64{"id": id}},
			})
		}
		writeFrame(conn, writeMu, map[string]any{"id": env.ID, "result": map[string]any{}})
		writeFrame(conn, writeMu, map[string]any{
			"method": "Runtime.executionContextDestroyed",
			"params": map[string]int64{"executionContextId": 2},
		})
	})
	s := dialTest(t, fe)

	if err := s.EnableContextTracking(context.Background(), 100*time.Millisecond); err != nil {
		t.Fatalf("enable: %v", err)
	}

	got := s.Contexts()
	want := []int64{1, 3}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("contexts = %v, want %v (insertion order, destroyed removed)", got, want)
	}
}

func TestContextsCleared(t *testing.T) {
	fe := newFakeEndpoint(t, func(conn *websocket.Conn, writeMu *sync.Mutex, env envelope) {
		for _, id := range []int64{7, 8} {
			writeFrame(conn, writeMu, map[string]any{
				"method": "Runtime.executionContextCreated",
				"params": map[string]any{"context": map[string]int64{"id": id}},
			})
		}
		writeFrame(conn, writeMu, map[string]any{"id": env.ID, "result": map[string]any{}})
		writeFrame(conn, writeMu, map[string]any{"method": "Runtime.executionContextsCleared"})
	})
	s := dialTest(t, fe)

	if err := s.EnableContextTracking(context.Background(), 100*time.Millisecond); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if got := s.Contexts(); len(got) != 0 {
		t.Errorf("contexts = %v, want empty after navigation cleared them", got)
	}
}

func TestEvalException(t *testing.T) {
	fe := newFakeEndpoint(t, func(conn *websocket.Conn, writeMu *sync.Mutex, env envelope) {
		writeFrame(conn, writeMu, map[string]any{
			"id": env.ID,
			"result": map[string]any{
				"result":           map[string]any{},
				"exceptionDetails": map[string]any{"text": "Uncaught", "exception": map[string]any{"description": "ReferenceError: x is not defined"}},
			},
		})
	})
	s := dialTest(t, fe)

	_, err := s.Eval(context.Background(), 1, "x")
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *RemoteError", err)
	}
	if re.Message != "ReferenceError: x is not defined" {
		t.Errorf("message = %q, want the exception description", re.Message)
	}
}

func TestEvalReturnsValue(t *testing.T) {
	fe := newFakeEndpoint(t, func(conn *websocket.Conn, writeMu *sync.Mutex, env envelope) {
		var params struct {
			ContextID     int64 `json:"contextId"`
			ReturnByValue bool  `json:"returnByValue"`
		}
		json.Unmarshal(env.Params, &params)
		if !params.ReturnByValue || params.ContextID != 42 {
			writeFrame(conn, writeMu, map[string]any{
				"id":    env.ID,
				"error": map[string]any{"code": -1, "message": "bad params"},
			})
			return
		}
		writeFrame(conn, writeMu, map[string]any{
			"id": env.ID,
			"result": map[string]any{
				"result": map[string]any{"value": map[string]bool{"found": true}},
			},
		})
	})
	s := dialTest(t, fe)

	raw, err := s.Eval(context.Background(), 42, "({found:true})")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	var res struct {
		Found bool `json:"found"`
	}
	if err := json.Unmarshal(raw, &res); err != nil || !res.Found {
		t.Errorf("value = %s (err %v), want {\"found\":true}", raw, err)
	}
}
