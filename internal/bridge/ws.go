// ABOUTME: WebSocket transport for out-of-process embedding.
// ABOUTME: JSON text frames; the read loop feeds the Messages channel.

package bridge

import (
	"context"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// WebSocketTransport is a Transport over a WebSocket connection, for
// deployments where the widget runtime lives in a separate process from the
// host application.
type WebSocketTransport struct {
	conn   *websocket.Conn
	in     chan any
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// DialTransport connects to a bridge WebSocket endpoint.
func DialTransport(ctx context.Context, url string) (*WebSocketTransport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newWebSocketTransport(conn), nil
}

// AcceptTransport upgrades an inbound HTTP request to a bridge WebSocket.
// The widget is embedded on arbitrary origins, so origin checks are off;
// the client secret is an opaque bearer token, not origin-bound.
func AcceptTransport(w http.ResponseWriter, r *http.Request) (*WebSocketTransport, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, err
	}
	return newWebSocketTransport(conn), nil
}

func newWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &WebSocketTransport{
		conn:   conn,
		in:     make(chan any, pipeBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	go t.readLoop()
	return t
}

func (t *WebSocketTransport) readLoop() {
	defer close(t.in)
	for {
		var v any
		if err := wsjson.Read(t.ctx, t.conn, &v); err != nil {
			return
		}
		select {
		case t.in <- v:
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *WebSocketTransport) Post(v any) error {
	if t.ctx.Err() != nil {
		return ErrTransportClosed
	}
	return wsjson.Write(t.ctx, t.conn, v)
}

func (t *WebSocketTransport) Messages() <-chan any {
	return t.in
}

func (t *WebSocketTransport) Close() error {
	t.once.Do(func() {
		t.cancel()
		t.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}
