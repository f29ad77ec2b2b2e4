package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"net"
)

// maxFrameSize guards against a corrupt or hostile length prefix causing an
// unbounded allocation.
const maxFrameSize = 16 << 20 // 16 MiB

// Channel wraps one accepted TCP connection and exchanges Envelope records
// framed as a 4-byte big-endian length prefix followed by a gob-encoded
// payload. recv/send each operate on exactly one record per call and are
// not safe to call concurrently from two goroutines on the same Channel —
// the dispatch loop that owns a Channel never does so.
type Channel struct {
	conn net.Conn
}

// NewChannel wraps an already-accepted connection.
func NewChannel(conn net.Conn) *Channel {
	return &Channel{conn: conn}
}

// RemoteAddr returns the peer address observed by the transport.
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// Recv reads the next Envelope off the wire. It returns io.EOF, unwrapped,
// when the peer has closed the connection — callers treat that as a
// "peer closed" sentinel, not as an error.
func (c *Channel) Recv() (*Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds limit", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}

	var msg Envelope
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&msg); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	return &msg, nil
}

// Send frames and writes one Envelope.
func (c *Channel) Send(msg *Envelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(buf.Len()))

	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := c.conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}
