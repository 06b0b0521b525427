package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/studyroom/internal/errs"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// echoServer echoes text frames; a frame "close-policy" makes it close with 1008.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "reject" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == `"close-policy"` {
				msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket" + query
}

func dial(t *testing.T, url string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, Options{Name: "test"})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func receive(t *testing.T, c *Conn) []byte {
	t.Helper()
	select {
	case data, ok := <-c.Incoming():
		if !ok {
			t.Fatal("incoming closed")
		}
		return data
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return nil
}

func TestSendAndReceive(t *testing.T) {
	c := dial(t, wsURL(echoServer(t), ""))
	defer c.Close(CloseNormal, "done")

	if c.State() != StateOpen {
		t.Fatalf("state = %v", c.State())
	}
	if err := c.Send(map[string]string{"content": "hi"}); err != nil {
		t.Fatal(err)
	}
	if got := string(receive(t, c)); got != `{"content":"hi"}` {
		t.Fatalf("echo = %s", got)
	}
}

func TestRemotePolicyClose(t *testing.T) {
	c := dial(t, wsURL(echoServer(t), ""))

	if err := c.Send("close-policy"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not end")
	}

	info := c.CloseInfo()
	if !info.AuthRejected() || info.Local {
		t.Fatalf("close info = %+v", info)
	}
	if c.State() != StateClosed {
		t.Fatalf("state = %v", c.State())
	}
	if _, ok := <-c.Incoming(); ok {
		t.Fatal("incoming should be closed")
	}
}

func TestSendAfterCloseIsDroppedAndCounted(t *testing.T) {
	c := dial(t, wsURL(echoServer(t), ""))
	c.Close(CloseNormal, "bye")
	c.Close(CloseNormal, "again")

	for i := 0; i < 3; i++ {
		if err := c.Send("late"); !errors.Is(err, errs.ErrNotOpen) {
			t.Fatalf("Send after close = %v", err)
		}
	}
	if got := c.Dropped(); got != 3 {
		t.Fatalf("Dropped = %d, want 3", got)
	}

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not end")
	}
	info := c.CloseInfo()
	if !info.Local || info.Code != CloseNormal {
		t.Fatalf("close info = %+v", info)
	}
}

func TestDialRejected(t *testing.T) {
	_, err := Dial(context.Background(), wsURL(echoServer(t), "?token=reject"), Options{})
	if !errors.Is(err, errs.ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
}

func TestDialUnavailable(t *testing.T) {
	srv := echoServer(t)
	url := wsURL(srv, "")
	srv.Close()

	_, err := Dial(context.Background(), url, Options{})
	if !errors.Is(err, errs.ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	if StateOpen.String() != "open" || StateConnecting.String() != "connecting" || StateClosed.String() != "closed" {
		t.Fatal("unexpected state names")
	}
}
