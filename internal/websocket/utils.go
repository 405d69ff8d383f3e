package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Conn serialises writes to a gorilla connection, which allows only one
// concurrent writer.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Wrap prepares conn for use: reads fail once the peer stops answering pings.
func Wrap(conn *websocket.Conn) *Conn {
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &Conn{ws: conn}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(code, errMsg string) error {
	return c.WriteTyped(ErrorResponse{
		Event: EventError,
		Code:  code,
		Error: errMsg,
	})
}

// PayloadError is returned by ReadJSON when a frame arrived but did not
// decode. The connection is still usable.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string { return "invalid payload: " + e.Err.Error() }
func (e *PayloadError) Unwrap() error { return e.Err }

// IsPayloadError reports whether err came from a frame that failed to decode.
func IsPayloadError(err error) bool {
	var pe *PayloadError
	return errors.As(err, &pe)
}

// ReadJSON reads and decodes a message into the provided structure. Any
// client message also extends the read deadline.
func (c *Conn) ReadJSON(v interface{}) error {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return err
	}
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &PayloadError{Err: err}
	}
	return nil
}

// KeepAlive pings the peer until done is closed or a ping fails.
func (c *Conn) KeepAlive(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close sends a normal closure frame and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.mu.Unlock()
	return c.ws.Close()
}
