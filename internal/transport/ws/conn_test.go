package ws_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/omochice/toy-file-chat/internal/transport"
	"github.com/omochice/toy-file-chat/internal/transport/ws"
	"nhooyr.io/websocket"
)

func TestConn_ImplementsInterface(t *testing.T) {
	var _ transport.Conn = (*ws.Conn)(nil)
	var _ transport.Dialer = ws.Dialer{}
}

func TestDialer_Read(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("failed to accept websocket: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		if err := c.Write(context.Background(), websocket.MessageText, []byte("test message")); err != nil {
			t.Errorf("failed to write: %v", err)
		}
		c.Read(context.Background())
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := ws.Dialer{}.Dial(context.Background(), wsURL)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	data, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "test message" {
		t.Errorf("Read() = %q, want %q", string(data), "test message")
	}
}

func TestDialer_Write(t *testing.T) {
	received := make(chan []byte, 1)
	kinds := make(chan websocket.MessageType, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("failed to accept websocket: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		typ, data, err := c.Read(context.Background())
		if err != nil {
			t.Errorf("failed to read: %v", err)
			return
		}
		kinds <- typ
		received <- data
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := ws.Dialer{}.Dial(context.Background(), wsURL)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.Write(context.Background(), []byte(`{"name":"alice"}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	select {
	case data := <-received:
		if string(data) != `{"name":"alice"}` {
			t.Errorf("server received %q", string(data))
		}
		if typ := <-kinds; typ != websocket.MessageText {
			t.Errorf("server received frame type %v, want text", typ)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestDialer_ReadAfterPeerClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.Close(websocket.StatusNormalClosure, "bye")
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := ws.Dialer{}.Dial(context.Background(), wsURL)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	_, err = conn.Read(context.Background())
	if !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Read() error = %v, want ErrClosed", err)
	}
}

func TestDialer_ReadHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		c.Read(context.Background())
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := ws.Dialer{}.Dial(context.Background(), wsURL)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = conn.Read(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Read() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestDialer_Refused(t *testing.T) {
	_, err := ws.Dialer{}.Dial(context.Background(), "ws://127.0.0.1:1")
	if err == nil {
		t.Error("expected error dialing closed port")
	}
}

func TestUpgrade_ServerSide(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()

	echoed := make(chan error, 1)
	go func() {
		raw, err := listener.Accept()
		if err != nil {
			echoed <- err
			return
		}
		conn, err := ws.Upgrade(raw, raw)
		if err != nil {
			echoed <- err
			return
		}
		defer conn.Close()

		data, err := conn.Read(context.Background())
		if err != nil {
			echoed <- err
			return
		}
		echoed <- conn.Write(context.Background(), data)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws://"+listener.Addr().String(), nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	if err := c.Write(ctx, websocket.MessageText, []byte("ping")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read echo: %v", err)
	}
	if string(data) != "ping" {
		t.Errorf("echo = %q, want %q", string(data), "ping")
	}
	if err := <-echoed; err != nil {
		t.Errorf("server error: %v", err)
	}
}
