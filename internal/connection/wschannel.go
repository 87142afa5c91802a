package connection

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/textpilot/textpilot-daemon/internal/stream"
)

const writeTimeout = 10 * time.Second

// WSChannel adapts a gorilla websocket connection to the Channel interface.
// Gorilla connections support only one concurrent writer, so every write
// goes through a mutex; reads stay on the handler's goroutine.
type WSChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSChannel wraps an upgraded websocket connection.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{conn: conn}
}

// Send writes msg as a JSON text frame with a bounded write deadline so a
// stalled client cannot pin the dispatcher's background task.
func (c *WSChannel) Send(msg stream.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying websocket connection.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// ReadControl blocks on the next client frame and decodes it as a control
// message. Non-JSON frames or unknown types come back with an empty Type
// and are ignored by the caller.
func (c *WSChannel) ReadControl() (stream.Control, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return stream.Control{}, err
	}
	var ctl stream.Control
	if err := json.Unmarshal(data, &ctl); err != nil {
		return stream.Control{}, nil
	}
	return ctl, nil
}
