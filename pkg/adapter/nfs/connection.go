package nfs

import (
	"context"
	"encoding/binary"
	"io"
	"net"

	"github.com/marmos91/dittofs/internal/logger"
)

const maxTCPFragment = 4 << 20 // 4 MiB, generous for NFS3 read/write payloads

// Connection is one TCP client of the NFS dispatcher. NFS over TCP uses
// RFC 1057 record marking: one or more 4-byte-prefixed fragments make up
// a complete RPC message.
type Connection struct {
	conn       net.Conn
	dispatcher *Dispatcher
}

func NewConnection(conn net.Conn, d *Dispatcher) *Connection {
	return &Connection{conn: conn, dispatcher: d}
}

// Serve implements adapter.ConnectionHandler.
func (c *Connection) Serve(ctx context.Context) {
	defer c.dispatcher.Sessions.RemoveByAddr(c.conn.RemoteAddr())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.Close()
		case <-done:
		}
	}()

	for {
		msg, err := c.readMessage()
		if err != nil {
			if err != io.EOF {
				logger.Debug("nfs tcp: read error", "client", c.conn.RemoteAddr(), "error", err)
			}
			return
		}

		reply := c.dispatcher.HandleMessage(msg, c.conn.RemoteAddr(), "tcp")
		if reply == nil {
			continue
		}
		if _, err := c.conn.Write(reply); err != nil {
			logger.Debug("nfs tcp: write error", "client", c.conn.RemoteAddr(), "error", err)
			return
		}
	}
}

// readMessage reassembles one or more record-marked fragments into a
// complete RPC message.
func (c *Connection) readMessage() ([]byte, error) {
	var msg []byte
	for {
		var header [4]byte
		if _, err := io.ReadFull(c.conn, header[:]); err != nil {
			return nil, err
		}
		word := binary.BigEndian.Uint32(header[:])
		last := word&0x80000000 != 0
		length := word & 0x7FFFFFFF
		if length > maxTCPFragment {
			return nil, io.ErrShortBuffer
		}

		frag := make([]byte, length)
		if _, err := io.ReadFull(c.conn, frag); err != nil {
			return nil, err
		}
		msg = append(msg, frag...)

		if last {
			return msg, nil
		}
	}
}
