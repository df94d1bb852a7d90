package transport

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// wsEndpoint carries one datagram per WebSocket binary message.
type wsEndpoint struct {
	conn *websocket.Conn
}

// DialWebSocket opens a WebSocket connection to a ws(s)://host/path URL.
func DialWebSocket(ctx context.Context, url string) (Endpoint, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxDatagram)
	return &wsEndpoint{conn: conn}, nil
}

func (w *wsEndpoint) Send(frame []byte) error {
	return w.conn.Write(context.Background(), websocket.MessageBinary, frame)
}

func (w *wsEndpoint) Receive(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := w.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ != websocket.MessageBinary {
			continue
		}
		return data, nil
	}
}

func (w *wsEndpoint) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "closing")
}
