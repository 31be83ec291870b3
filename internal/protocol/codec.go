package protocol

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// Codec reads and writes raw binary frames over a websocket connection.
// Frames are opaque []byte: the tunnel layer owns encoding/decoding of
// the command byte and request header; Codec only moves bytes.
//
// Write ordering is the caller's responsibility (the tunnel's send
// queue serializer); Codec does not buffer or reorder.
type Codec struct {
	conn *websocket.Conn
}

// NewCodec wraps a websocket connection with frame read/write.
func NewCodec(conn *websocket.Conn) *Codec {
	return &Codec{conn: conn}
}

// WriteFrame sends a raw binary frame over the websocket.
func (c *Codec) WriteFrame(data []byte) error {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("writing websocket message: %w", err)
	}
	return nil
}

// ReadFrame reads the next binary frame from the websocket.
func (c *Codec) ReadFrame() ([]byte, error) {
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading websocket message: %w", err)
	}
	if msgType != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected websocket message type: %d", msgType)
	}
	return data, nil
}

// Close closes the underlying websocket connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}
