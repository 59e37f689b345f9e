package websocket

import (
	"time"

	gorillaws "github.com/gorilla/websocket"
)

// Client is one subscriber connection. The hub goroutine is the only writer;
// the read loop exists to notice disconnects and eat control frames.
type Client struct {
	conn *gorillaws.Conn
}

func newClient(conn *gorillaws.Conn) *Client {
	return &Client{conn: conn}
}

// startReadLoop drains inbound frames until the connection errors, then
// signals via the returned channel. Subscribers have no protocol of their
// own; anything they send is discarded.
func (c *Client) startReadLoop() <-chan struct{} {
	done := make(chan struct{})
	c.conn.SetReadLimit(maxMessageSize)
	go func() {
		defer close(done)
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}

func (c *Client) writeText(frame []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(gorillaws.TextMessage, frame)
}

// close sends a close frame with the given code and tears the socket down.
func (c *Client) close(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = c.conn.WriteControl(gorillaws.CloseMessage, gorillaws.FormatCloseMessage(code, reason), deadline)
	_ = c.conn.Close()
}
