package protocol

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// Frame is one raw message read from the client.
type Frame struct {
	Binary bool
	Data   []byte
}

// Conn adapts a client WebSocket to the message types of this package.
// Writes are safe for concurrent use; Read must be called from one goroutine.
type Conn struct {
	ws *websocket.Conn
}

// NewConn wraps ws. readLimit bounds the size of a single client frame; video
// frames need far more than the library default.
func NewConn(ws *websocket.Conn, readLimit int64) *Conn {
	if readLimit > 0 {
		ws.SetReadLimit(readLimit)
	}
	return &Conn{ws: ws}
}

// Read returns the next client frame.
func (c *Conn) Read(ctx context.Context) (Frame, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Binary: typ == websocket.MessageBinary, Data: data}, nil
}

// WriteMessage sends msg as a text frame.
func (c *Conn) WriteMessage(ctx context.Context, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("protocol: encode %s: %w", msg.MessageType(), err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// WriteAudio sends raw PCM as a binary frame.
func (c *Conn) WriteAudio(ctx context.Context, pcm []byte) error {
	return c.ws.Write(ctx, websocket.MessageBinary, pcm)
}

// Close performs the closing handshake with a normal status.
func (c *Conn) Close(reason string) error {
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}
