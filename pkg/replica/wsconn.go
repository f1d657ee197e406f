package replica

import (
	"context"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// WriteWait bounds every write, including the close frame.
const WriteWait = 10 * time.Second

// wsConn adapts a gorilla connection to Conn. Frames are sent as text.
type wsConn struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

func newWSConn(conn *websocket.Conn, maxMessageSize int64, readTimeout time.Duration) *wsConn {
	if maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	return &wsConn{conn: conn, readTimeout: readTimeout}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, err
		}
	}
	_, data, err := c.conn.ReadMessage()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return nil, io.EOF
	}
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(WriteWait),
	)
	return c.conn.Close()
}

// HandleWebSocket runs Handle over a gorilla connection using the engine's frame
// limit and heartbeat.
func (e *Engine) HandleWebSocket(ctx context.Context, conn *websocket.Conn) error {
	return e.Handle(ctx, newWSConn(conn, e.maxMessageSize, 2*e.heartbeat))
}
